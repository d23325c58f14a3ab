package amqp

import "fmt"

// BuildURL assembles an amqp:// DSN from discrete host/port/credential
// fields, mirroring how the Postgres DSN is assembled from config fields
// rather than accepted as a single pre-built connection string.
func BuildURL(user, password, host string, port int) string {
	return fmt.Sprintf("amqp://%s:%s@%s:%d/", user, password, host, port)
}
