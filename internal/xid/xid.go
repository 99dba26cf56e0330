package xid

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// New returns a prefixed unique identifier, e.g. "sale-3f1c...". The prefix
// keeps IDs readable in logs and audit trails.
func New(prefix string) string {
	return fmt.Sprintf("%s-%s", prefix, strings.ReplaceAll(uuid.NewString(), "-", ""))
}
