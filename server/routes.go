package server

import (
	"expvar"
	"fmt"
	"log"
	"net/http"
	_ "net/http/pprof" // for pprof server
	"sync"

	"github.com/facebookgo/clock"
	"github.com/facebookgo/httpdown"
	"github.com/julienschmidt/httprouter"
	"github.com/pkg/errors"

	"github.com/umcneuro/cohanon/audit"
	"github.com/umcneuro/cohanon/scrub"
)

// RESTServer holds the configuration for a cohanond REST API server.
//
// Set all the public fields and then call Run. Run will listen on the given
// port and handle requests. At the moment there is no maximum simultaneous
// request limit. Do not change any fields after calling Run.
//
// Run will also start background workers taking batch jobs off the
// queue, and the sweeper reverifying old outputs.
type RESTServer struct {
	// Port number to listen on. defaults to 14000
	PortNumber string
	PProfPort  string

	// Pass in a dial command to use a MySQL server for the audit
	// trail. Otherwise a lightweight internal database is used, kept
	// at QLPath. The empty QLPath or the special value "memory" will
	// run the database entirely inside the server's memory (useful
	// for testing).
	// e.g. "user:password@tcp(localhost:5555)/dbname?parseTime=true"
	MySQL  string
	QLPath string

	// DB is the audit trail. Usually left nil and opened by Run from
	// MySQL or QLPath.
	DB audit.DB

	// Workers bounds how many recordings a job processes at once.
	Workers int

	// Converter handles jobs asking for exchange format output. Nil
	// disables conversion; such jobs still anonymise.
	Converter scrub.Converter

	// Overwrite redoes conversions whose output already exists.
	Overwrite bool

	// Validator does authentication by validating any user tokens
	// presented to the API. If this is nil then no authentication will be
	// done.
	Validator TokenDecoder

	// DisableSweep turns off the background verification sweeper.
	DisableSweep bool

	server    httpdown.Server // used to close our listening socket
	sweeper   *audit.Sweeper
	jobs      jobRegistry
	jobqueue  chan int64     // channel to feed background job workers. contains job ids
	jobwg     sync.WaitGroup // for waiting for all background job workers to exit
	jobcancel chan struct{}  // is closed to indicate job workers should exit
	pauseMu   sync.Mutex
	paused    bool
}

// Run initializes and starts all the goroutines used by the server. It then
// blocks listening for and handling http requests.
func (s *RESTServer) Run() error {
	log.Println("==========")
	log.Printf("Starting Cohanon Server version %s", Version)

	if err := s.setup(); err != nil {
		return err
	}

	// for pprof
	if s.PProfPort != "" {
		log.Println("Starting PProf on port", s.PProfPort)
		go func() {
			log.Println(http.ListenAndServe(":"+s.PProfPort, nil))
		}()
	}
	if s.PortNumber == "" {
		s.PortNumber = "14000"
	}
	log.Println("Listening on", s.PortNumber)

	var err error
	h := httpdown.HTTP{Stats: httpStats, Clock: clock.New()}
	s.server, err = h.ListenAndServe(&http.Server{
		Addr:    ":" + s.PortNumber,
		Handler: s.addRoutes(),
	})
	if err != nil {
		log.Println(err)
		return err
	}
	return s.server.Wait()
}

// setup opens the audit trail and starts the job workers and the
// sweeper. Split from Run so tests can drive the handlers without a
// listening socket.
func (s *RESTServer) setup() error {
	if s.Validator == nil {
		log.Println("No Validator given")
		s.Validator = NewNobodyDecoder()
	}

	// init database
	if s.DB == nil {
		var err error
		if s.MySQL != "" {
			log.Printf("Using MySQL")
			s.DB, err = audit.NewMySQL(s.MySQL)
		} else {
			path := s.QLPath
			if path == "" {
				path = "memory"
			}
			log.Printf("Using internal database at %s", path)
			s.DB, err = audit.NewQL(path)
		}
		if err != nil {
			return errors.Wrap(err, "opening audit database")
		}
	}

	// init sweeper
	if !s.DisableSweep {
		log.Println("Starting verification sweeper")
		s.sweeper = audit.NewSweeper(s.DB)
		go s.sweeper.Run()
	}

	// init job workers
	s.jobqueue = make(chan int64, 100) // 100 is arbitrary. don't expect that many.
	s.jobcancel = make(chan struct{})
	for i := 0; i < MaxConcurrentJobs; i++ {
		s.jobwg.Add(1)
		go s.jobWorker()
	}
	return nil
}

// Stop will stop the server and return when all the server goroutines have
// exited and the socket closed.
func (s *RESTServer) Stop() error {
	// first shut down the job workers. a running batch is cancelled,
	// its in-flight recordings finish, and the trail records the rest
	// as cancelled.
	close(s.jobcancel)
	s.jobwg.Wait() // wait for all job workers to exit

	if s.sweeper != nil {
		s.sweeper.Stop()
	}

	// then shutdown all the HTTP connections
	if s.server == nil {
		return nil
	}
	return s.server.Stop()
}

func (s *RESTServer) addRoutes() http.Handler {
	var routes = []struct {
		method  string
		route   string
		role    Role // RoleUnknown means no API key is needed to access
		handler httprouter.Handle
	}{
		// the job things
		{"POST", "/jobs", RoleSubmit, s.NewJobHandler},
		{"GET", "/jobs", RoleRead, s.ListJobsHandler},
		{"GET", "/jobs/:id", RoleRead, s.JobHandler},
		{"POST", "/jobs/:id/cancel", RoleSubmit, s.CancelJobHandler},

		// the audit trail
		{"GET", "/runs", RoleRead, s.RunsHandler},
		{"GET", "/runs/:id/files", RoleRead, s.RunFilesHandler},
		{"GET", "/checks", RoleRead, s.ChecksHandler},

		// /admin/pause (enable, disable, get status)
		{"GET", "/admin/pause", RoleUnknown, s.GetPauseHandler},
		{"PUT", "/admin/pause/:status", RoleAdmin, s.SetPauseHandler},

		// other
		{"GET", "/fields", RoleUnknown, FieldsHandler},
		{"GET", "/", RoleUnknown, WelcomeHandler},
		{"GET", "/debug/vars", RoleUnknown, VarHandler}, // standard route for expvars data
	}

	r := httprouter.New()
	for _, route := range routes {
		r.Handle(route.method,
			route.route,
			logWrapper(s.authzWrapper(route.handler, route.role)))
	}
	return r
}

// General route handlers and convinence functions

// VarHandler adapts the expvar default handler to the httprouter three parameter handler.
func VarHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	// this code is taken from the stdlib expvar package.
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	fmt.Fprintf(w, "{\n")
	first := true
	expvar.Do(func(kv expvar.KeyValue) {
		if !first {
			fmt.Fprintf(w, ",\n")
		}
		first = false
		fmt.Fprintf(w, "%q: %s", kv.Key, kv.Value)
	})
	fmt.Fprintf(w, "\n}\n")
}

// authzWrapper returns a Handler which will first verify the user token as
// having at least the given Role. The user name is added as a parameter
// "username".
func (s *RESTServer) authzWrapper(handler httprouter.Handle, leastRole Role) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		token := r.Header.Get("X-Api-Key")
		user, role, err := s.Validator.TokenDecode(token)
		if err != nil {
			w.WriteHeader(500)
			fmt.Fprintln(w, err.Error())
			return
		}

		// is role valid?
		if role < leastRole {
			w.WriteHeader(401)
			fmt.Fprintln(w, "Forbidden")
			return
		}

		// remove any previous username
		for i := range ps {
			if ps[i].Key == "username" {
				ps[i].Value = user
				goto out
			}
		}
		// add a new username if none found
		ps = append(ps, httprouter.Param{Key: "username", Value: user})
	out:
		handler(w, r, ps)
	}
}

// logWrapper takes a handler and returns a handler which does the same thing,
// after first logging the request URL.
func logWrapper(handler httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		log.Println(r.Method, r.URL)
		handler(w, r, ps)
	}
}
