package xid

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// productNamespace scopes derived product ids so they never collide with
// random ids from New.
var productNamespace = uuid.MustParse("6f1c2a3e-8d4b-5e7f-9a01-b2c3d4e5f607")

func New(prefix string) string {
	return fmt.Sprintf("%s-%s", prefix, uuid.NewString())
}

// Derive returns the same id for the same parts, on every terminal.
func Derive(parts ...string) string {
	return uuid.NewSHA1(productNamespace, []byte(strings.Join(parts, "\x00"))).String()
}
