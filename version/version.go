package version

// Version is overridden at build time with
// -ldflags "-X github.com/mynaparrot/v2tic-server/version.Version=..."
var Version = "1.0.0-dev"
