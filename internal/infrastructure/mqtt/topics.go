package mqtt

import "fmt"

// TopicPrefixSystem is the base for system topics.
// Bridge-specific topics (state, command, ack, health, discovery) are built
// by the bridge package itself.
const TopicPrefixSystem = "graylogic/system"

// Topics provides builders for the system topics the client publishes on.
type Topics struct{}

// SystemStatus returns the topic for client online/offline status.
// Published retained on connect and clean shutdown; the default will
// message uses it too.
//
// Example: graylogic/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}
