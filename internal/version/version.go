package version

// Version is the current version of Screenlink.
// Release builds override it with:
//
//	go build -ldflags="-X 'github.com/BioHazard786/Screenlink/internal/version.Version=v1.0.0'"
var Version = "dev"

// UserAgent is sent with the signaling handshake so relay logs can tell peers apart.
func UserAgent() string {
	return "screenlink/" + Version
}
