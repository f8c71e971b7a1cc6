package wadialog

// Version is overridden at build time with -ldflags "-X github.com/aretw0/wadialog.Version=...".
var Version = "dev"
