package main

import (
	"crypto/tls"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/certifi/gocertifi"
	raven "github.com/getsentry/raven-go"

	"github.com/umcneuro/cohanon/config"
	"github.com/umcneuro/cohanon/convert"
	"github.com/umcneuro/cohanon/server"
)

// version is overwritten at link time by the release build.
var version = "development"

var (
	configPath  = flag.String("config", "", "path to the configuration file")
	portNumber  = flag.String("port", "", "port the API listens on")
	pprofPort   = flag.String("pprof", "", "port the profiler listens on (empty keeps it off)")
	tokenFile   = flag.String("tokenfile", "", "file of API keys, one user per line")
	qlPath      = flag.String("ql", "", "file the internal audit database lives in")
	mysql       = flag.String("mysql", "", "MySQL dial string for the audit database")
	nworkers    = flag.Int("workers", 0, "how many recordings each job processes at once")
	showversion = flag.Bool("version", false, "print the version and exit")
)

func main() {
	flag.Parse()

	if *showversion {
		fmt.Printf("cohanond version %s\n", version)
		return
	}

	c := config.Default()
	if *configPath != "" {
		var err error
		c, err = config.Load(*configPath)
		if err != nil {
			log.Fatalln(err)
		}
	}
	applyflags(&c)
	setupraven()

	server.Version = version
	s := &server.RESTServer{
		PortNumber: c.Port,
		PProfPort:  c.PProfPort,
		MySQL:      c.AuditMySQL,
		QLPath:     c.AuditQL,
		Workers:    c.Workers,
		Overwrite:  c.Overwrite,
	}
	if c.Converter != "" {
		s.Converter = convert.Converter{
			Exe:     c.Converter,
			Timeout: time.Duration(c.ConvertTimeoutMinutes) * time.Minute,
		}
	}
	if c.TokenFile != "" {
		v, err := server.NewListDecoderFile(c.TokenFile)
		if err != nil {
			log.Fatalln("Loading token file:", err)
		}
		s.Validator = v
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		log.Println("Received signal, stopping")
		s.Stop()
	}()

	if err := s.Run(); err != nil {
		log.Fatalln(err)
	}
}

// setupraven gives the error reporter an HTTP client with the bundled
// certificate roots instead of the system store. The DSN is read from
// SENTRY_DSN by the raven package itself.
func setupraven() {
	certs, err := gocertifi.CACerts()
	if err != nil {
		log.Println("Loading CA certificates:", err)
		return
	}
	raven.DefaultClient.Transport = &raven.HTTPTransport{
		Client: &http.Client{
			Transport: &http.Transport{
				Proxy:           http.ProxyFromEnvironment,
				TLSClientConfig: &tls.Config{RootCAs: certs},
			},
		},
	}
}

func applyflags(c *config.Config) {
	if *portNumber != "" {
		c.Port = *portNumber
	}
	if *pprofPort != "" {
		c.PProfPort = *pprofPort
	}
	if *tokenFile != "" {
		c.TokenFile = *tokenFile
	}
	if *qlPath != "" {
		c.AuditQL = *qlPath
	}
	if *mysql != "" {
		c.AuditMySQL = *mysql
	}
	if *nworkers > 0 {
		c.Workers = *nworkers
	}
}
