package auth

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/observastack/observastack/pkg/apiclient"
	"github.com/observastack/observastack/pkg/apierrors"
	"github.com/observastack/observastack/pkg/metrics"
	"github.com/observastack/observastack/pkg/system"
	"github.com/observastack/observastack/pkg/tokenstore"
)

const (
	// DefaultRefreshInterval is the tick of StartRefreshLoop when none is given.
	DefaultRefreshInterval = 15 * time.Second
	// DefaultRefreshTimeout bounds one shared refresh, which outlives the
	// context of the caller that started it.
	DefaultRefreshTimeout = time.Minute
)

// Facade dispatches session operations to the backend selected at
// construction. It is safe for concurrent use.
type Facade struct {
	method  Method
	backend Backend
	log     *zap.SugaredLogger

	refreshGroup   singleflight.Group
	refreshTimeout time.Duration

	loopMu   sync.Mutex
	loopStop func()
}

type facadeOptions struct {
	api       *apiclient.Client
	store     *tokenstore.Store
	federated FederatedConfig
	factory   IdentityClientFactory
	backend   Backend
	log       *zap.SugaredLogger

	refreshTimeout time.Duration
}

type Option func(*facadeOptions)

// WithAPIClient sets the transport. The facade installs itself as the
// transport's token source.
func WithAPIClient(api *apiclient.Client) Option {
	return func(o *facadeOptions) { o.api = api }
}

// WithTokenStore sets the store of the local backend. Defaults to tokenstore.Default().
func WithTokenStore(store *tokenstore.Store) Option {
	return func(o *facadeOptions) { o.store = store }
}

func WithFederatedConfig(cfg FederatedConfig) Option {
	return func(o *facadeOptions) { o.federated = cfg }
}

func WithIdentityClientFactory(factory IdentityClientFactory) Option {
	return func(o *facadeOptions) { o.factory = factory }
}

// WithBackend replaces the backend built from the method.
func WithBackend(backend Backend) Option {
	return func(o *facadeOptions) { o.backend = backend }
}

func WithLogger(log *zap.SugaredLogger) Option {
	return func(o *facadeOptions) { o.log = log }
}

// WithRefreshTimeout bounds each shared refresh. Defaults to DefaultRefreshTimeout.
func WithRefreshTimeout(timeout time.Duration) Option {
	return func(o *facadeOptions) { o.refreshTimeout = timeout }
}

// NewFacade builds the facade for method. The local backend requires an API
// client; the federated backend validates its configuration on Init.
func NewFacade(method Method, opts ...Option) (*Facade, error) {
	o := &facadeOptions{}
	for _, opt := range opts {
		opt(o)
	}
	log := system.OrNop(o.log)

	backend := o.backend
	if backend == nil {
		switch method {
		case MethodFederated:
			backend = NewFederatedBackend(o.federated, o.factory, log)
		case MethodLocal:
			if o.api == nil {
				return nil, apierrors.New(apierrors.KindConfiguration, "Local authentication requires an API client")
			}
			store := o.store
			if store == nil {
				store = tokenstore.Default()
			}
			backend = NewLocalBackend(o.api, store, log)
		default:
			return nil, apierrors.Newf(apierrors.KindConfiguration, "unknown auth method %q", method)
		}
	}

	refreshTimeout := o.refreshTimeout
	if refreshTimeout <= 0 {
		refreshTimeout = DefaultRefreshTimeout
	}
	f := &Facade{
		method:         method,
		backend:        backend,
		log:            log.With(system.SessionFields(string(method), "")...),
		refreshTimeout: refreshTimeout,
	}
	if o.api != nil {
		o.api.SetTokenSource(f.GetToken)
	}
	return f, nil
}

// GetAuthMethod returns the method fixed at construction.
func (f *Facade) GetAuthMethod() Method {
	return f.method
}

func (f *Facade) Init(ctx context.Context) (bool, error) {
	authenticated, err := f.backend.Init(ctx)
	return authenticated, normalize(err)
}

func (f *Facade) Login(ctx context.Context, creds *Credentials) (*LoginResult, error) {
	result, err := f.backend.Login(ctx, creds)
	if err != nil {
		return nil, normalize(err)
	}
	return result, nil
}

func (f *Facade) Logout(ctx context.Context) error {
	return normalize(f.backend.Logout(ctx))
}

// GetCurrentUser re-queries the backend on every call.
func (f *Facade) GetCurrentUser(ctx context.Context) (*SessionUser, error) {
	user, err := f.backend.CurrentUser(ctx)
	if err != nil {
		return nil, normalize(err)
	}
	if user.Roles == nil {
		user.Roles = []string{}
	}
	return user, nil
}

func (f *Facade) IsAuthenticated(ctx context.Context) bool {
	return f.backend.IsAuthenticated(ctx)
}

// GetToken returns the bearer token for the next request, if any.
func (f *Facade) GetToken() (string, bool) {
	return f.backend.Token()
}

// UpdateToken refreshes the session if it is about to expire. Concurrent
// callers share one in-flight refresh and its result. The shared refresh
// is detached from the starting caller's cancellation, so a caller that gives
// up returns false without failing the others.
func (f *Facade) UpdateToken(ctx context.Context) bool {
	leader := false
	results := f.refreshGroup.DoChan("refresh", func() (any, error) {
		leader = true
		refreshCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), f.refreshTimeout)
		defer cancel()
		return f.backend.Refresh(refreshCtx), nil
	})
	select {
	case <-ctx.Done():
		return false
	case res := <-results:
		if !leader {
			metrics.TokenRefresh.WithLabelValues(string(f.method), "coalesced").Inc()
		}
		refreshed, _ := res.Val.(bool)
		return refreshed
	}
}

// StartRefreshLoop calls UpdateToken every interval until ctx is done or the
// returned stop func is called. While a loop runs, further calls return the
// running loop's stop func. stop blocks until the loop has exited.
func (f *Facade) StartRefreshLoop(ctx context.Context, interval time.Duration) (stop func()) {
	f.loopMu.Lock()
	defer f.loopMu.Unlock()
	if f.loopStop != nil {
		return f.loopStop
	}
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}

	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	stop = func() {
		cancel()
		<-done
	}
	f.loopStop = stop

	go func() {
		defer close(done)
		defer func() {
			f.loopMu.Lock()
			f.loopStop = nil
			f.loopMu.Unlock()
		}()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		f.log.Debugw("Token refresh loop started", "interval", interval.String())
		for {
			select {
			case <-loopCtx.Done():
				f.log.Debugw("Token refresh loop stopped")
				return
			case <-ticker.C:
				if f.UpdateToken(loopCtx) {
					f.log.Debugw("Token refreshed proactively")
				}
			}
		}
	}()
	return stop
}

// RefreshLoopRunning reports whether a refresh loop is active.
func (f *Facade) RefreshLoopRunning() bool {
	f.loopMu.Lock()
	defer f.loopMu.Unlock()
	return f.loopStop != nil
}

// normalize maps failures outside the taxonomy onto it.
func normalize(err error) error {
	if err == nil || apierrors.KindOf(err) != "" {
		return err
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return apierrors.Wrap(apierrors.KindTimeout, err, "authentication timed out")
	case errors.Is(err, context.Canceled):
		return apierrors.Wrap(apierrors.KindNetwork, err, "authentication aborted")
	default:
		return apierrors.Wrap(apierrors.KindAuthentication, err, "authentication failed")
	}
}
