package harness

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/statlight/harness/framework"
	"github.com/statlight/harness/servicedef"

	"github.com/gorilla/mux"
	"github.com/launchdarkly/go-test-helpers/v2/httphelpers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTestService struct {
	failInstance int
	created      []servicedef.CreateClientParams
	deleted      []string
	stopped      int
	nextID       int
	lock         sync.Mutex
}

func newFakeTestService() *fakeTestService {
	return &fakeTestService{failInstance: -1}
}

func (f *fakeTestService) handler() http.Handler {
	router := mux.NewRouter()
	router.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, servicedef.StatusRep{
			Name:         "fake-host",
			Capabilities: framework.Capabilities{framework.CapabilityTagFilter},
		})
	}).Methods("GET")
	router.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		var params servicedef.CreateClientParams
		_ = json.NewDecoder(r.Body).Decode(&params)
		f.lock.Lock()
		defer f.lock.Unlock()
		if params.Instance == f.failInstance {
			w.WriteHeader(500)
			return
		}
		f.created = append(f.created, params)
		f.nextID++
		w.Header().Set("Location", fmt.Sprintf("/clients/%d", f.nextID))
		w.WriteHeader(http.StatusCreated)
	}).Methods("POST")
	router.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		f.lock.Lock()
		f.stopped++
		f.lock.Unlock()
	}).Methods("DELETE")
	router.HandleFunc("/clients/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.lock.Lock()
		f.deleted = append(f.deleted, r.URL.Path)
		f.lock.Unlock()
	}).Methods("DELETE")
	return router
}

func (f *fakeTestService) snapshot() (created []servicedef.CreateClientParams, deleted []string, stopped int) {
	f.lock.Lock()
	defer f.lock.Unlock()
	created = append(created, f.created...)
	deleted = append(deleted, f.deleted...)
	sort.Strings(deleted)
	return created, deleted, f.stopped
}

func TestLauncherStartsOneClientPerHostInstance(t *testing.T) {
	service := newFakeTestService()
	httphelpers.WithServer(service.handler(), func(server *httptest.Server) {
		l, err := NewClientLauncher(server.URL, makeConfig(t, 3), func() string { return "http://harness:8111" })
		require.NoError(t, err)

		require.NoError(t, l.Start(context.Background()))
		assert.Error(t, l.Start(context.Background()))

		created, _, _ := service.snapshot()
		require.Len(t, created, 3)
		instances := make([]int, 0, 3)
		for _, p := range created {
			instances = append(instances, p.Instance)
			assert.Equal(t, "http://harness:8111", p.HarnessURL)
			assert.Equal(t, 3, p.HostCount)
			assert.Equal(t, "Tests.xap", p.EntryPointAssembly)
			assert.Equal(t, "SelfHosted", p.Browser)
			assert.Equal(t, servicedef.WindowGeometry{State: "Minimized", Width: 800, Height: 600}, p.Window)
		}
		sort.Ints(instances)
		assert.Equal(t, []int{0, 1, 2}, instances)

		require.NoError(t, l.Stop())
		_, deleted, _ := service.snapshot()
		assert.Equal(t, []string{"/clients/1", "/clients/2", "/clients/3"}, deleted)

		require.NoError(t, l.Stop())
		require.NoError(t, l.Start(context.Background()), "launcher can be restarted after Stop")
	})
}

func TestLauncherDisposesPartiallyStartedClients(t *testing.T) {
	service := newFakeTestService()
	service.failInstance = 1
	httphelpers.WithServer(service.handler(), func(server *httptest.Server) {
		l, err := NewClientLauncher(server.URL, makeConfig(t, 3), nil)
		require.NoError(t, err)

		err = l.Start(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "host instance 1")

		created, deleted, _ := service.snapshot()
		assert.Len(t, deleted, len(created))
	})
}

func TestLauncherRequiresLocationHeader(t *testing.T) {
	handler := mux.NewRouter()
	handler.Handle("/", httphelpers.HandlerWithStatus(200)).Methods("GET")
	handler.Handle("/", httphelpers.HandlerWithStatus(201)).Methods("POST")
	httphelpers.WithServer(handler, func(server *httptest.Server) {
		l, err := NewClientLauncher(server.URL, makeConfig(t, 1), nil)
		require.NoError(t, err)
		err = l.Start(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "Location")
	})
}

func TestLauncherCloseIsIdempotent(t *testing.T) {
	service := newFakeTestService()
	httphelpers.WithServer(service.handler(), func(server *httptest.Server) {
		l, err := NewClientLauncher(server.URL+"/", makeConfig(t, 2), nil, LauncherStopServiceAtEnd(true))
		require.NoError(t, err)
		require.NoError(t, l.Start(context.Background()))

		require.NoError(t, l.Close())
		require.NoError(t, l.Close())

		_, deleted, stopped := service.snapshot()
		assert.Len(t, deleted, 2)
		assert.Equal(t, 1, stopped)
		assert.Error(t, l.Start(context.Background()))
	})
}

func TestLauncherServiceInfo(t *testing.T) {
	service := newFakeTestService()
	httphelpers.WithServer(service.handler(), func(server *httptest.Server) {
		var output strings.Builder
		l, err := NewClientLauncher(server.URL, makeConfig(t, 1), nil, LauncherOutput(&output))
		require.NoError(t, err)

		info, err := l.ServiceInfo(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "fake-host", info.Name)
		assert.True(t, info.Capabilities.Has(framework.CapabilityTagFilter))
		assert.Contains(t, output.String(), "Connecting to test service at "+server.URL)
	})
}

func TestLauncherGivesUpWhenServiceIsUnavailable(t *testing.T) {
	var url string
	httphelpers.WithServer(httphelpers.HandlerWithStatus(200), func(server *httptest.Server) {
		url = server.URL
	})
	l, err := NewClientLauncher(url, makeConfig(t, 1), nil, LauncherStatusTimeout(time.Millisecond*200))
	require.NoError(t, err)

	err = l.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "test service is not available")
}

func TestLauncherRejectsErrorStatus(t *testing.T) {
	httphelpers.WithServer(httphelpers.HandlerWithStatus(503), func(server *httptest.Server) {
		l, err := NewClientLauncher(server.URL, makeConfig(t, 1), nil)
		require.NoError(t, err)
		_, err = l.ServiceInfo(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "503")
	})
}
