package server

// Version is reported by the welcome page. Releases overwrite it at
// link time with the -X flag.
var Version = "development"
