package panel

import (
	"fmt"
	"net/url"

	"github.com/gorillaerror/xui-central/internal/admin/db"
)

// VlessURL renders the connection URL a client imports for one key.
// It points at the node's public domain, never the management address.
func VlessURL(node db.Node, uuid, email string) string {
	query := url.Values{
		"encryption":  {"none"},
		"security":    {"tls"},
		"type":        {"grpc"},
		"serviceName": {"sync"},
	}
	label := url.PathEscape(fmt.Sprintf("%s-%s", node.Name, email))
	return fmt.Sprintf("vless://%s@%s:443?%s#%s", uuid, node.Domain, query.Encode(), label)
}
