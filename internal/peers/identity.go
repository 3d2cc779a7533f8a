package peers

import (
	"strings"

	"github.com/google/uuid"
)

// Identity is the discoverable name/id pair for one participant. The id is
// the display name plus a random disambiguator, so two peers with the same
// name remain distinct. An Identity is valid for one session: renaming the
// local participant mints a new one and invalidates existing connections.
type Identity struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
}

// NewIdentity creates a fresh identity for the given display name.
func NewIdentity(displayName string) Identity {
	tag := strings.Split(uuid.NewString(), "-")[0]
	return Identity{
		ID:          displayName + "#" + tag,
		DisplayName: displayName,
	}
}
