package harness

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/statlight/harness/framework"
	"github.com/statlight/harness/framework/helpers"
	"github.com/statlight/harness/framework/runconfig"
	"github.com/statlight/harness/servicedef"

	"golang.org/x/sync/errgroup"
)

const defaultStatusTimeout = time.Second * 10

// ServiceInfo is status information returned by the test service from the initial status query.
type ServiceInfo struct {
	servicedef.StatusRep

	// FullData is the entire response received from the test service, which might contain additional
	// properties beyond StatusRep.
	FullData []byte
}

// ClientLauncher starts and stops hosted-client instances by talking to the test service, which
// owns the browser or out-of-browser host processes.
//
// Each Start creates one client per configured host instance; Stop disposes of them again. The
// same launcher can be started and stopped any number of times until it is closed.
type ClientLauncher struct {
	serviceURL       string
	config           *runconfig.RunConfiguration
	harnessURL       func() string
	statusTimeout    time.Duration
	output           io.Writer
	logger           framework.Logger
	stopServiceAtEnd bool
	info             *ServiceInfo
	clients          []*clientEntity
	closed           bool
	lock             sync.Mutex
}

type LauncherOption helpers.ConfigOption[ClientLauncher]

type launcherOptionStatusTimeout time.Duration

func (o launcherOptionStatusTimeout) Configure(l *ClientLauncher) error {
	l.statusTimeout = time.Duration(o)
	return nil
}

// LauncherStatusTimeout sets how long to keep retrying the initial status query while the test
// service is starting up.
func LauncherStatusTimeout(timeout time.Duration) LauncherOption {
	return launcherOptionStatusTimeout(timeout)
}

type launcherOptionOutput struct{ w io.Writer }

func (o launcherOptionOutput) Configure(l *ClientLauncher) error {
	l.output = o.w
	return nil
}

// LauncherOutput sets where connection progress is printed. The default discards it.
func LauncherOutput(w io.Writer) LauncherOption { return launcherOptionOutput{w} }

type launcherOptionLogger struct{ logger framework.Logger }

func (o launcherOptionLogger) Configure(l *ClientLauncher) error {
	l.logger = framework.OrNullLogger(o.logger)
	return nil
}

// LauncherLogger sets the debug logger.
func LauncherLogger(logger framework.Logger) LauncherOption { return launcherOptionLogger{logger} }

type launcherOptionStopService bool

func (o launcherOptionStopService) Configure(l *ClientLauncher) error {
	l.stopServiceAtEnd = bool(o)
	return nil
}

// LauncherStopServiceAtEnd tells the launcher to ask the test service to exit when it is closed.
func LauncherStopServiceAtEnd(stop bool) LauncherOption { return launcherOptionStopService(stop) }

type clientEntity struct {
	instance    int
	resourceURL string
}

// NewClientLauncher creates a launcher for the test service at serviceURL. The harnessURL function
// is called at each Start, since the transport's address may not be known until it is listening.
func NewClientLauncher(
	serviceURL string,
	config *runconfig.RunConfiguration,
	harnessURL func() string,
	options ...LauncherOption,
) (*ClientLauncher, error) {
	if serviceURL == "" {
		return nil, errors.New("test service URL is required")
	}
	if config == nil {
		return nil, errors.New("run configuration is required")
	}
	l := &ClientLauncher{
		serviceURL:    strings.TrimSuffix(serviceURL, "/"),
		config:        config,
		harnessURL:    harnessURL,
		statusTimeout: defaultStatusTimeout,
		output:        io.Discard,
		logger:        framework.NullLogger(),
	}
	if err := helpers.ApplyOptions(l, options...); err != nil {
		return nil, err
	}
	return l, nil
}

// ServiceInfo queries the test service's status, waiting for it to come up if necessary. The
// result is cached after the first success.
func (l *ClientLauncher) ServiceInfo(ctx context.Context) (ServiceInfo, error) {
	l.lock.Lock()
	defer l.lock.Unlock()
	return l.serviceInfo(ctx)
}

func (l *ClientLauncher) serviceInfo(ctx context.Context) (ServiceInfo, error) {
	if l.info != nil {
		return *l.info, nil
	}
	info, err := queryServiceInfo(ctx, l.serviceURL, l.statusTimeout, l.output)
	if err != nil {
		return ServiceInfo{}, err
	}
	l.info = &info
	return info, nil
}

// Start creates one hosted client for every host instance. If any of them cannot be created, the
// ones that were created are disposed of again before returning the error.
func (l *ClientLauncher) Start(ctx context.Context) error {
	l.lock.Lock()
	defer l.lock.Unlock()
	if l.closed {
		return errors.New("launcher has been closed")
	}
	if len(l.clients) != 0 {
		return errors.New("hosted clients are already running")
	}
	if _, err := l.serviceInfo(ctx); err != nil {
		return fmt.Errorf("test service is not available: %w", err)
	}

	harnessURL := ""
	if l.harnessURL != nil {
		harnessURL = l.harnessURL()
	}
	window := l.config.WindowGeometry()
	hostCount := l.config.HostCount()
	created := make([]*clientEntity, hostCount)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < hostCount; i++ {
		instance := i
		g.Go(func() error {
			params := servicedef.CreateClientParams{
				HarnessURL:         harnessURL,
				Instance:           instance,
				HostCount:          hostCount,
				Browser:            string(l.config.Browser()),
				EntryPointAssembly: l.config.EntryPointAssembly(),
				Window: servicedef.WindowGeometry{
					State:  string(window.State),
					Width:  window.Width,
					Height: window.Height,
				},
			}
			entity, err := l.createClient(gctx, params)
			if err != nil {
				return fmt.Errorf("starting host instance %d: %w", instance, err)
			}
			created[instance] = entity
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, c := range created {
			if c != nil {
				_ = l.deleteClient(c)
			}
		}
		return err
	}
	l.clients = created
	l.logger.Printf("Started %d hosted client(s)", hostCount)
	return nil
}

// Stop disposes of all hosted clients created by the last Start. It is a no-op if none are running.
func (l *ClientLauncher) Stop() error {
	l.lock.Lock()
	defer l.lock.Unlock()
	return l.stopClients()
}

// Close stops any running clients and, if so configured, tells the test service to exit. Calling
// it more than once has no further effect.
func (l *ClientLauncher) Close() error {
	l.lock.Lock()
	defer l.lock.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	err := l.stopClients()
	if l.stopServiceAtEnd {
		err = errors.Join(err, l.stopService())
	}
	return err
}

func (l *ClientLauncher) stopClients() error {
	var errs []error
	for _, c := range l.clients {
		errs = append(errs, l.deleteClient(c))
	}
	l.clients = nil
	return errors.Join(errs...)
}

func (l *ClientLauncher) createClient(ctx context.Context, params servicedef.CreateClientParams) (*clientEntity, error) {
	data, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	l.logger.Printf("Creating hosted client with parameters: %s", string(data))
	_, headers, err := doRequest(ctx, "POST", l.serviceURL, data)
	if err != nil {
		return nil, err
	}
	resourceURL := headers.Get("Location")
	if resourceURL == "" {
		return nil, errors.New("test service did not return a Location header with a resource URL")
	}
	if !strings.HasPrefix(resourceURL, "http:") && !strings.HasPrefix(resourceURL, "https:") {
		resourceURL = l.serviceURL + resourceURL
	}
	return &clientEntity{instance: params.Instance, resourceURL: resourceURL}, nil
}

func (l *ClientLauncher) deleteClient(c *clientEntity) error {
	l.logger.Printf("Closing %s", c.resourceURL)
	_, _, err := doRequest(context.Background(), "DELETE", c.resourceURL, nil)
	if err != nil {
		l.logger.Printf("DELETE request to test service failed: %s", err)
	}
	return err
}

// stopService tells the test service that it should exit.
func (l *ClientLauncher) stopService() error {
	req, _ := http.NewRequest("DELETE", l.serviceURL, nil)
	resp, err := http.DefaultClient.Do(req)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err == nil && resp.StatusCode >= 300 {
		return fmt.Errorf("service returned HTTP %d", resp.StatusCode)
	}
	// It's normal for the request to return an I/O error if the service immediately quit before sending a response
	return nil
}

func queryServiceInfo(ctx context.Context, url string, timeout time.Duration, output io.Writer) (ServiceInfo, error) {
	fmt.Fprintf(output, "Connecting to test service at %s", url)

	deadline := time.Now().Add(timeout)
	for {
		fmt.Fprintf(output, ".")
		req, _ := http.NewRequestWithContext(ctx, "GET", url, nil)
		resp, err := http.DefaultClient.Do(req)
		if err == nil {
			fmt.Fprintln(output)
			respData, readErr := io.ReadAll(resp.Body)
			_ = resp.Body.Close()
			if resp.StatusCode != 200 {
				return ServiceInfo{}, fmt.Errorf("test service returned status code %d", resp.StatusCode)
			}
			if readErr != nil {
				return ServiceInfo{}, readErr
			}
			if len(respData) == 0 {
				fmt.Fprintf(output, "Status query successful, but service provided no metadata\n")
				return ServiceInfo{}, nil
			}
			fmt.Fprintf(output, "Status query returned metadata: %s\n", string(respData))
			var base servicedef.StatusRep
			if err := json.Unmarshal(respData, &base); err != nil {
				return ServiceInfo{}, fmt.Errorf("malformed status response from test service: %s", string(respData))
			}
			return ServiceInfo{StatusRep: base, FullData: respData}, nil
		}
		if ctx.Err() != nil {
			fmt.Fprintln(output)
			return ServiceInfo{}, ctx.Err()
		}
		if !time.Now().Before(deadline) {
			fmt.Fprintln(output)
			return ServiceInfo{}, fmt.Errorf("timed out, result of last query was: %w", err)
		}
		select {
		case <-ctx.Done():
		case <-time.After(time.Millisecond * 100):
		}
	}
}

func doRequest(ctx context.Context, method, url string, body []byte) ([]byte, http.Header, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewBuffer(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, nil, err
	}
	if body != nil {
		req.Header.Add("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, nil, err
	}
	var respBody []byte
	if resp.Body != nil {
		respBody, _ = io.ReadAll(resp.Body)
		_ = resp.Body.Close()
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		message := ""
		if body != nil {
			message = " (" + string(body) + ")"
		}
		err = fmt.Errorf("test service returned error %d for %s %s%s", resp.StatusCode, method, url, message)
	}
	return respBody, resp.Header, err
}
