package main

import (
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"expvar"
	"flag"
	"fmt"
	"io/ioutil"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-martini/martini"
	"github.com/martini-contrib/binding"
	mgzip "github.com/martini-contrib/gzip"
	"github.com/martini-contrib/render"
	_ "github.com/mattn/go-sqlite3"
	. "github.com/openlmsdev/h5pbridge/types"
)

// Config holds site-specific configuration data.
var Config struct {
	// required parameters
	PublicURL    string `json:"publicURL"`    // base URL for this site: "https://bridge.example.edu"
	H5PServerURL string `json:"h5pServerURL"` // base URL of the H5P content server: "http://localhost:3000"

	// required for the LTI role
	SessionSecret string `json:"sessionSecret"` // random string used to sign cookies: `head -c 32 /dev/urandom | base64`

	// parameters where the default is usually sufficient
	ToolName        string `json:"toolName"`        // LTI human readable name: default "H5P Bridge"
	ToolID          string `json:"toolID"`          // LTI unique ID: default "h5pbridge"
	ToolDescription string `json:"toolDescription"` // LTI description: default "Interactive H5P content with grade reporting"
	SQLite3Path     string `json:"sqlite3Path"`     // path to the sqlite database file: default "$H5PBRIDGEROOT/db/h5pbridge.db"
	LTIPlatformFile string `json:"ltiPlatformFile"` // gcfg file listing LTI platform registrations (optional)
	ToolKeyFile     string `json:"toolKeyFile"`     // PEM private key used to sign LTI service requests (optional)
	RemoteTimeout   int    `json:"remoteTimeout"`   // seconds to wait when fetching the remote content listing: default 5
}

var root string
var port string

var db *sql.DB
var dbMutex sync.Mutex

func main() {
	log.SetFlags(log.Lshortfile)

	root = os.Getenv("H5PBRIDGEROOT")
	if root == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			log.Fatalf("H5PBRIDGEROOT is not set, and cannot find user's home directory")
		}
		root = filepath.Join(home, "h5pbridge")
	}
	log.Printf("H5PBRIDGEROOT set to %s", root)

	port = ":" + os.Getenv("PORT")
	if port == ":" {
		port = ":8080"
	}
	log.Printf("port set to %s", port)

	// parse command line
	var useConfig bool
	flag.BoolVar(&useConfig, "config", false, "Use config.json for config data (for testing)")
	flag.Parse()

	// set config defaults
	Config.ToolName = "H5P Bridge"
	Config.ToolID = "h5pbridge"
	Config.ToolDescription = "Interactive H5P content with grade reporting"
	Config.SQLite3Path = filepath.Join(root, "db", "h5pbridge.db")
	Config.H5PServerURL = "http://localhost:3000"
	Config.RemoteTimeout = 5

	// load config
	if useConfig {
		configFile := filepath.Join(root, "config.json")
		if raw, err := ioutil.ReadFile(configFile); err != nil {
			log.Fatalf("failed to load config file %q: %v", configFile, err)
		} else if err := json.Unmarshal(raw, &Config); err != nil {
			log.Fatalf("failed to parse config file: %v", err)
		}
	} else {
		if s := os.Getenv("H5PBRIDGE_PUBLICURL"); s != "" {
			Config.PublicURL = s
		}
		if s := os.Getenv("H5PBRIDGE_H5PSERVERURL"); s != "" {
			Config.H5PServerURL = s
		}
		Config.SessionSecret = os.Getenv("H5PBRIDGE_SESSIONSECRET")
		if s := os.Getenv("H5PBRIDGE_LTIPLATFORMFILE"); s != "" {
			Config.LTIPlatformFile = s
		}
		if s := os.Getenv("H5PBRIDGE_TOOLKEYFILE"); s != "" {
			Config.ToolKeyFile = s
		}
	}
	Config.SessionSecret = unBase64(Config.SessionSecret)

	if Config.PublicURL == "" {
		Config.PublicURL = "http://localhost" + port
	}
	Config.PublicURL = strings.TrimRight(Config.PublicURL, "/")
	if Config.H5PServerURL == "" {
		log.Fatalf("cannot run with no h5pServerURL in the config file")
	}
	if Config.SessionSecret == "" {
		log.Fatalf("cannot run with no sessionSecret in the config file")
	}

	// set up the LTI role if platforms are registered
	if Config.LTIPlatformFile != "" {
		if Config.ToolKeyFile == "" {
			log.Fatalf("cannot serve LTI with no toolKeyFile in the config file")
		}
		if err := loadToolKey(Config.ToolKeyFile); err != nil {
			log.Fatalf("loading tool key: %v", err)
		}
		if err := loadPlatforms(Config.LTIPlatformFile); err != nil {
			log.Fatalf("loading LTI platforms: %v", err)
		}
		log.Printf("serving LTI for %d platform(s)", len(ltiPlatforms))
	}

	// set up the database
	db = setupDB(Config.SQLite3Path)

	m := newServer(filepath.Join(root, "templates"))

	// note: this will work behind a TLS proxy or for local testing,
	// but LTI platforms will refuse to connect to an insecure host
	log.Printf("accepting http connections on %s", port)
	if err := http.ListenAndServe(port, m); err != nil {
		log.Fatalf("ListenAndServe: %v", err)
	}
}

// newServer builds the martini instance with all routes attached.
// templateDir points at the HTML templates for the browse pages.
func newServer(templateDir string) *martini.Martini {
	r := martini.NewRouter()
	m := martini.New()
	m.Logger(log.New(os.Stderr, "", log.Lshortfile))
	m.Use(martini.Recovery())
	m.MapTo(r, (*martini.Routes)(nil))
	m.Action(r.Handle)

	m.Use(mgzip.All())
	m.Use(render.Renderer(render.Options{
		Directory:  templateDir,
		Extensions: []string{".tmpl"},
		IndentJSON: false,
	}))

	// version
	r.Get("/v2/version", counter, func(w http.ResponseWriter, render render.Render) {
		render.JSON(http.StatusOK, &CurrentVersion)
	})

	// xAPI results webhook
	r.Post("/v2/results", counter, cors, binding.Json(ResultPayload{}), withTx, PostResults)
	r.Options("/v2/results", counter, cors, func(w http.ResponseWriter) {
		w.WriteHeader(http.StatusOK)
	})

	// content references
	r.Get("/v2/contents", counter, withTx, GetContents)
	r.Get("/v2/contents/:content_id", counter, withTx, GetContent)
	r.Delete("/v2/contents/:content_id", counter, withTx, DeleteContent)
	r.Get("/v2/contents/:content_id/grades", counter, withTx, GetContentGrades)
	r.Get("/v2/users/:user_id/grades", counter, withTx, GetUserGrades)

	// courses and activities
	r.Get("/v2/courses", counter, withTx, GetCourses)
	r.Post("/v2/courses", counter, binding.Json(Course{}), withTx, PostCourse)
	r.Get("/v2/courses/:course_id", counter, withTx, GetCourse)
	r.Delete("/v2/courses/:course_id", counter, withTx, DeleteCourse)
	r.Get("/v2/courses/:course_id/activities", counter, withTx, GetCourseActivities)
	r.Post("/v2/courses/:course_id/activities", counter, binding.Json(ActivityRequest{}), withTx, PostCourseActivity)
	r.Get("/v2/activities/:activity_id", counter, withTx, GetActivity)
	r.Delete("/v2/activities/:activity_id", counter, withTx, DeleteActivity)
	r.Get("/v2/activities/:activity_id/grades", counter, withTx, GetActivityGrades)

	// remote content listing (proxy, tolerant of failure)
	r.Get("/v2/remote/contents", counter, GetRemoteContents)

	// stats
	r.Get("/v2/stats", counter, GetStats)

	// browse pages
	r.Get("/", counter, withTx, LibraryPage)
	r.Get("/courses/:course_id", counter, withTx, CoursePage)
	r.Get("/activities/:activity_id", counter, withTx, ActivityPage)
	r.Get("/play/:content_id", counter, withTx, PlayerPage)
	r.Get("/new", counter, RedirectNewContent)
	r.Get("/edit/:content_id", counter, withTx, RedirectEditContent)
	r.Get("/callback", counter, withTx, EditorCallback)

	// LTI 1.3
	r.Get("/lti/config.json", counter, GetLtiConfig)
	r.Get("/.well-known/jwks.json", counter, GetJWKS)
	r.Any("/lti/login", counter, LtiLogin)
	r.Post("/lti/launch", counter, withTx, PostLtiLaunch)
	r.Get("/lti/play/:h5p_id", counter, withTx, LtiPlay)

	return m
}

// martini middleware: per-request expvar accounting
func counter(w http.ResponseWriter, r *http.Request, c martini.Context) {
	start := time.Now()
	c.Next()
	now := time.Now()
	seconds := now.Sub(start).Seconds()

	// requests are handled concurrently, so the running totals need a lock
	statsMutex.Lock()
	hits++
	hitsCounter.Add(1)
	if seconds > slowest {
		slowest = seconds
		slowestCounter.Set(seconds)
		slowestTimeCounter.Set(now.Format(time.RFC1123))
		slowestPathCounter.Set(r.URL.Path)
	}
	totalSeconds += seconds
	totalSecondsCounter.Add(seconds)
	averageSecondsCounter.Set(totalSeconds / float64(hits))
	statsMutex.Unlock()

	rw := w.(martini.ResponseWriter)
	if rw.Status() >= 400 {
		errorsCounter.Add(1)
	}
	goroutineCounter.Set(int64(runtime.NumGoroutine()))
}

// martini middleware: CORS headers so the H5P server can POST results
// directly from content pages
func cors(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
}

// martini service: wrap handler in a transaction
func withTx(c martini.Context, r *http.Request, w http.ResponseWriter) {
	dbMutex.Lock()
	defer dbMutex.Unlock()

	start := time.Now()
	defer func() {
		elapsed := time.Since(start)
		if elapsed > 500*time.Millisecond {
			log.Printf("transaction took %v, req was %s", elapsed, r.RequestURI)
		}
	}()
	tx, err := db.Begin()
	if err != nil {
		loggedHTTPErrorf(w, http.StatusInternalServerError, "db error starting transaction: %v", err)
		return
	}

	// pass it on to the main handler
	c.Map(tx)
	c.Next()

	// was it a successful result?
	rw := w.(martini.ResponseWriter)
	if rw.Status() < http.StatusBadRequest {
		if err := tx.Commit(); err != nil {
			loggedHTTPErrorf(w, http.StatusInternalServerError, "db error committing transaction: %v", err)
			return
		}
	} else {
		if err := tx.Rollback(); err != nil {
			loggedHTTPErrorf(w, http.StatusInternalServerError, "db error rolling back transaction: %v", err)
			return
		}
	}
}

// GetStats handles /v2/stats requests, dumping all expvar counters.
func GetStats(w http.ResponseWriter, r *http.Request) {
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

func addWhereEq(where string, args []interface{}, label string, value interface{}) (string, []interface{}) {
	if where == "" {
		where = " WHERE"
	} else {
		where += " AND"
	}
	args = append(args, value)
	where += fmt.Sprintf(" %s = ?", label)
	return where, args
}

func addWhereLike(where string, args []interface{}, label string, value string) (string, []interface{}) {
	if where == "" {
		where = " WHERE"
	} else {
		where += " AND"
	}
	args = append(args, "%"+strings.ToLower(value)+"%")

	// sqlite is set to use case insensitive LIKEs
	where += fmt.Sprintf(" %s LIKE ?", label)
	return where, args
}

func loggedHTTPDBNotFoundError(w http.ResponseWriter, err error) {
	msg := "not found"
	status := http.StatusNotFound
	if err != sql.ErrNoRows {
		msg = fmt.Sprintf("db error: %v", err)
		status = http.StatusInternalServerError
	}
	http.Error(w, msg, status)
}

func loggedHTTPErrorf(w http.ResponseWriter, status int, format string, params ...interface{}) error {
	msg := fmt.Sprintf(format, params...)
	log.Print(logPrefix() + msg)
	http.Error(w, msg, status)
	return fmt.Errorf("%s", msg)
}

func parseID(w http.ResponseWriter, name, s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, loggedHTTPErrorf(w, http.StatusBadRequest, "error parsing %s from URL: %v", name, err)
	}
	if id < 1 {
		return 0, loggedHTTPErrorf(w, http.StatusBadRequest, "invalid ID in URL: %s must be 1 or greater", name)
	}

	return id, nil
}

func logPrefix() string {
	prefix := ""
	if _, file, line, ok := runtime.Caller(2); ok {
		if slash := strings.LastIndex(file, "/"); slash >= 0 {
			file = file[slash+1:]
		}
		prefix = fmt.Sprintf("%s:%d: ", file, line)
	}
	return prefix
}

func unBase64(s string) string {
	if raw, err := base64.StdEncoding.DecodeString(s); err == nil {
		return string(raw)
	}
	return s
}

var (
	statsMutex            sync.Mutex
	hits                  int
	hitsCounter           = expvar.NewInt("hits")
	slowest               float64
	slowestCounter        = expvar.NewFloat("slowestSeconds")
	slowestPathCounter    = expvar.NewString("slowestPath")
	slowestTimeCounter    = expvar.NewString("slowestTime")
	totalSeconds          float64
	totalSecondsCounter   = expvar.NewFloat("totalSeconds")
	averageSecondsCounter = expvar.NewFloat("averageSeconds")
	errorsCounter         = expvar.NewInt("errors")
	goroutineCounter      = expvar.NewInt("goroutines")
)
