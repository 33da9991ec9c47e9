package services

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humamux"
	"github.com/gorilla/mux"
	"golang.org/x/net/netutil"
	"gorm.io/gorm"

	"github.com/librarian-project/librarian/api"
	"github.com/librarian-project/librarian/auth"
	"github.com/librarian-project/librarian/client"
	"github.com/librarian-project/librarian/config"
	"github.com/librarian-project/librarian/core"
	"github.com/librarian-project/librarian/db"
	"github.com/librarian-project/librarian/store"
	"github.com/librarian-project/librarian/tasks"
)

// LibrarianService defines the interface for the librarian's HTTP service.
type LibrarianService interface {
	// Starts the service on the selected port, returning an error that indicates
	// success or failure.
	Start(port int) error
	// Gracefully shuts down the service without interrupting active connections.
	Shutdown(ctx context.Context) error
	// Closes down the service, freeing all resources.
	Close()
}

// This type implements the LibrarianService interface, serving the
// upload, clone, checkin, search, and validation protocols to clients
// and peer librarians.
type librarianService struct {
	// name of the service
	Name string
	// service version identifier
	Version string
	// time which the service was started
	StartTime time.Time
	// port on which the service currently runs
	Port int
	// router for REST endpoints
	Router *mux.Router
	// API wrapper
	API huma.API
	// HTTP server.
	Server *http.Server

	// the metadata database
	db *gorm.DB
	// matches basic auth credentials to leveled users
	authenticator *auth.Authenticator
	// one manager per configured store
	stores map[string]store.Manager
}

// authorizes a caller for the given level, returning the authenticated
// user and an error describing any issue encountered
func (service *librarianService) authorize(authorizationHeader string,
	required auth.AuthLevel) (auth.User, error) {

	if !strings.HasPrefix(authorizationHeader, "Basic ") {
		return auth.User{}, huma.Error401Unauthorized("invalid authorization header")
	}
	credentialBytes, err := base64.StdEncoding.DecodeString(
		authorizationHeader[len("Basic "):])
	if err != nil {
		return auth.User{}, huma.Error401Unauthorized(err.Error())
	}
	username, password, found := strings.Cut(string(credentialBytes), ":")
	if !found {
		return auth.User{}, huma.Error401Unauthorized("malformed basic auth credentials")
	}

	user, err := service.authenticator.CheckUser(username, password)
	if err != nil {
		return auth.User{}, huma.Error401Unauthorized(err.Error())
	}
	if !user.Level.AtLeast(required) {
		return auth.User{}, huma.Error403Forbidden(
			fmt.Sprintf("user %s lacks the %s authorization level",
				user.Username, required))
	}

	// if the caller is a known peer, note that we heard from it
	now := time.Now()
	service.db.Model(&db.Librarian{}).Where("name = ?", user.Username).
		Update("last_heard", &now)

	return user, nil
}

// returns the names of configured stores in a stable order
func (service *librarianService) storeNames() []string {
	names := make([]string, 0, len(service.stores))
	for name := range service.stores {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// selects the first ingestable, enabled store with room for the given
// size, or returns nil
func (service *librarianService) storeForUpload(size int64) store.Manager {
	for _, name := range service.storeNames() {
		conf := config.Stores[name]
		if !conf.Ingestable || !conf.Enabled {
			continue
		}
		manager := service.stores[name]
		free, err := manager.FreeSpace()
		if err != nil {
			slog.Warn(fmt.Sprintf("Couldn't determine free space on store %s: %s",
				name, err))
			continue
		}
		if free >= size {
			return manager
		}
	}
	return nil
}

// builds a client for the named peer librarian
func (service *librarianService) peerClient(name string) (*client.LibrarianClient, error) {
	var librarian db.Librarian
	if err := service.db.First(&librarian, "name = ?", name).Error; err != nil {
		return nil, fmt.Errorf("unknown peer librarian: %s", name)
	}
	return client.NewLibrarianClient(librarian)
}

type ServiceInfoOutput struct {
	Body ServiceInfoResponse `doc:"information about the service itself"`
}

// this type encodes a JSON object for responding to root queries
type ServiceInfoResponse struct {
	Name          string `json:"name" doc:"The name of the service API"`
	Version       string `json:"version" doc:"The version string (major.minor.patch)"`
	Uptime        int    `json:"uptime" doc:"The time the service has been up (seconds)"`
	Documentation string `json:"documentation" doc:"The OpenAPI documentation endpoint"`
}

// handler method for root (no authorization needed for this one)
func (service *librarianService) getRoot(ctx context.Context,
	input *struct{}) (*ServiceInfoOutput, error) {

	slog.Info("Querying root endpoint...")
	return &ServiceInfoOutput{
		Body: ServiceInfoResponse{
			Name:          service.Name,
			Version:       service.Version,
			Uptime:        int(service.uptime()),
			Documentation: "/docs",
		},
	}, nil
}

type PingOutput struct {
	Body api.PingResponse `doc:"the name and description of this librarian"`
}

// handler method for the ping endpoint, used by peers to check liveness
func (service *librarianService) ping(ctx context.Context,
	input *struct {
		Authorization string `header:"authorization"`
	}) (*PingOutput, error) {

	if _, err := service.authorize(input.Authorization, auth.LevelReadOnly); err != nil {
		return nil, err
	}
	return &PingOutput{
		Body: api.PingResponse{
			Name:        config.Service.Name,
			Description: config.Service.Description,
		},
	}, nil
}

// returns the uptime for the service in seconds
func (service *librarianService) uptime() float64 {
	return time.Since(service.StartTime).Seconds()
}

// constructs a librarian service backed by the given database
func NewLibrarianService(gormDB *gorm.DB) (LibrarianService, error) {

	// validate our configuration
	if config.Service.Name == "" {
		return nil, fmt.Errorf("No service name was specified.")
	}
	if len(config.Stores) == 0 {
		return nil, fmt.Errorf("No stores were specified.")
	}

	userFile := config.Auth.UserFile
	if userFile == "" {
		userFile = filepath.Join(config.Service.DataDirectory, "users.dat")
	}
	authenticator, err := auth.NewAuthenticator(userFile, config.Auth.Key)
	if err != nil {
		return nil, err
	}
	if config.Auth.RereadInterval > 0 {
		authenticator.RereadInterval =
			time.Duration(config.Auth.RereadInterval) * time.Second
	}

	service := new(librarianService)
	service.Name = config.Service.Name
	service.Version = core.Version
	service.Port = -1
	service.db = gormDB
	service.authenticator = authenticator

	service.stores = make(map[string]store.Manager)
	for name := range config.Stores {
		manager, err := store.NewManager(name)
		if err != nil {
			return nil, err
		}
		service.stores[name] = manager
	}

	// set up routing
	service.Router = mux.NewRouter()
	api := humamux.New(service.Router, huma.DefaultConfig(service.Name, service.Version))
	service.API = api
	huma.Get(api, "/", service.getRoot)

	huma.Post(api, "/ping", service.ping)
	huma.Post(api, "/upload/stage", service.stageUpload)
	huma.Post(api, "/upload/commit", service.commitUpload)
	huma.Post(api, "/clone/stage", service.stageClone)
	huma.Post(api, "/clone/batch_stage", service.batchStageClone)
	huma.Post(api, "/clone/ongoing", service.cloneOngoing)
	huma.Post(api, "/clone/staged", service.cloneStaged)
	huma.Post(api, "/clone/complete", service.cloneComplete)
	huma.Post(api, "/clone/fail", service.cloneFail)
	huma.Post(api, "/checkin/status", service.checkinStatus)
	huma.Post(api, "/checkin/update", service.checkinUpdate)
	huma.Post(api, "/search/file", service.searchFiles)
	huma.Post(api, "/validate/file", service.validateFile)
	huma.Post(api, "/errors/search", service.searchErrors)
	huma.Post(api, "/errors/clear", service.clearError)

	AddDocEndpoints(service.Router)

	return service, nil
}

// starts the librarian service
func (service *librarianService) Start(port int) error {
	slog.Info(fmt.Sprintf("Starting %s service on port %d...", service.Name, port))
	slog.Info(fmt.Sprintf("(Accepting up to %d connections)", config.Service.MaxConnections))

	service.StartTime = time.Now()

	// create a listener that limits the number of incoming connections
	service.Port = port
	listener, err := net.Listen("tcp", ":"+strconv.Itoa(port))
	if err != nil {
		return err
	}
	defer listener.Close()
	listener = netutil.LimitListener(listener, config.Service.MaxConnections)

	// start background task processing
	err = tasks.Start(service.db)
	if err != nil {
		return err
	}

	// start the server
	service.Server = &http.Server{
		Handler: service.Router}
	err = service.Server.Serve(listener)

	// we don't report the server closing as an error
	if err != http.ErrServerClosed {
		return err
	}
	return nil
}

// gracefully shuts down the service without interrupting active connections
func (service *librarianService) Shutdown(ctx context.Context) error {
	tasks.Stop()
	if service.Server != nil {
		return service.Server.Shutdown(ctx)
	}
	return nil
}

// closes down the service abruptly, freeing all resources
func (service *librarianService) Close() {
	tasks.Stop()
	if service.Server != nil {
		service.Server.Close()
	}
}
