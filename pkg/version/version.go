package version

// Current defines the application version.
// It defaults to "dev" and is overwritten at build time with -ldflags "-X".
var Current = "dev"

const AppName = "todoslash"
