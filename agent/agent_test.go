package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ggoodman/xrce-agent-go/auth"
	"github.com/ggoodman/xrce-agent-go/entities"
	"github.com/ggoodman/xrce-agent-go/xrce"
)

var (
	clientKey = xrce.ClientKey{0xF1, 0xF2, 0xF3, 0xF4}
	objectID  = xrce.ObjectID{0x10, 0x20}
	requestID = xrce.RequestID(0xAA)
)

func createClientRequest() *xrce.CreateClientRequest {
	return &xrce.CreateClientRequest{
		RequestID:    requestID,
		ClientKey:    clientKey,
		RootObjectID: objectID,
		Cookie:       xrce.ExpectedCookie,
		Version:      xrce.SupportedVersion,
	}
}

func createObjectRequest(kind xrce.ObjectKind) *xrce.CreateObjectRequest {
	return &xrce.CreateObjectRequest{
		RequestID: requestID,
		ObjectID:  objectID,
		Object: xrce.ObjectVariant{
			Kind: kind,
			Representation: xrce.Representation{
				Format: xrce.RepresentationAsXMLString,
				XML:    "<dds/>",
			},
		},
	}
}

func assertResult(t *testing.T, got xrce.ResultStatus, op xrce.LastOp, impl xrce.ImplStatus) {
	t.Helper()
	if got.Status != op || got.Implementation != impl {
		t.Fatalf("want %s/%s, got %s", op, impl, got)
	}
}

func TestCreateClient(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*xrce.CreateClientRequest)
		want   xrce.ImplStatus
	}{
		{"ok", func(*xrce.CreateClientRequest) {}, xrce.StatusOK},
		{"bad cookie", func(r *xrce.CreateClientRequest) { r.Cookie = xrce.Cookie{0x00, 0x00} }, xrce.StatusErrInvalidData},
		{"compatible minor", func(r *xrce.CreateClientRequest) { r.Version.Minor = 0x20 }, xrce.StatusOK},
		{"incompatible major", func(r *xrce.CreateClientRequest) { r.Version.Major = 0x02 }, xrce.StatusErrIncompatible},
		{"incompatible major any minor", func(r *xrce.CreateClientRequest) { r.Version = xrce.Version{Major: 0x02, Minor: 0x00} }, xrce.StatusErrIncompatible},
		{"bad cookie wins over version", func(r *xrce.CreateClientRequest) {
			r.Cookie = xrce.Cookie{'X', 'X'}
			r.Version.Major = 0x07
		}, xrce.StatusErrInvalidData},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := New()
			req := createClientRequest()
			tt.mutate(req)
			res := a.CreateClient(context.Background(), req)
			assertResult(t, res, xrce.StatusLastOpCreate, tt.want)
			if res.RequestID != requestID {
				t.Fatalf("request id not echoed: got %d", res.RequestID)
			}
			_, found := a.Client(clientKey)
			if found != (tt.want == xrce.StatusOK) {
				t.Fatalf("session registered=%v after %s", found, res)
			}
		})
	}
}

func TestCreateClientNilRequest(t *testing.T) {
	a := New()
	assertResult(t, a.CreateClient(context.Background(), nil), xrce.StatusLastOpCreate, xrce.StatusErrInvalidData)
	if a.Len() != 0 {
		t.Fatalf("expected empty registry")
	}
}

func TestDeleteExistingClient(t *testing.T) {
	ctx := context.Background()
	a := New()
	req := createClientRequest()
	assertResult(t, a.CreateClient(ctx, req), xrce.StatusLastOpCreate, xrce.StatusOK)

	res := a.DeleteClient(ctx, &xrce.DeleteClientRequest{RequestID: 7, ClientKey: clientKey, ObjectID: req.RootObjectID})
	assertResult(t, res, xrce.StatusLastOpDelete, xrce.StatusOK)
	if res.RequestID != 7 {
		t.Fatalf("request id not echoed: got %d", res.RequestID)
	}
	if _, ok := a.Client(clientKey); ok {
		t.Fatalf("client still registered after delete")
	}

	// The key is no longer valid for any operation.
	assertResult(t, a.DeleteClient(ctx, &xrce.DeleteClientRequest{ClientKey: clientKey}), xrce.StatusLastOpDelete, xrce.StatusErrInvalidData)
	assertResult(t, a.CreateObject(ctx, clientKey, xrce.CreationMode{}, createObjectRequest(xrce.ObjectKindSubscriber)), xrce.StatusLastOpCreate, xrce.StatusErrInvalidData)
	assertResult(t, a.DeleteObject(ctx, clientKey, &xrce.DeleteObjectRequest{ObjectID: objectID}), xrce.StatusLastOpDelete, xrce.StatusErrInvalidData)
}

func TestDeleteClientIgnoresPayloadObjectID(t *testing.T) {
	ctx := context.Background()
	a := New()
	assertResult(t, a.CreateClient(ctx, createClientRequest()), xrce.StatusLastOpCreate, xrce.StatusOK)
	res := a.DeleteClient(ctx, &xrce.DeleteClientRequest{ClientKey: clientKey, ObjectID: xrce.ObjectID{0xDE, 0xAD}})
	assertResult(t, res, xrce.StatusLastOpDelete, xrce.StatusOK)
}

func TestDeleteOnEmptyAgent(t *testing.T) {
	a := New()
	res := a.DeleteClient(context.Background(), &xrce.DeleteClientRequest{RequestID: requestID, ClientKey: clientKey, ObjectID: objectID})
	assertResult(t, res, xrce.StatusLastOpDelete, xrce.StatusErrInvalidData)
}

func TestDeleteNoExistingClient(t *testing.T) {
	ctx := context.Background()
	a := New()
	assertResult(t, a.CreateClient(ctx, createClientRequest()), xrce.StatusLastOpCreate, xrce.StatusOK)

	fake := xrce.ClientKey{0xFA, 0xFB, 0xFC, 0xFD}
	res := a.DeleteClient(ctx, &xrce.DeleteClientRequest{RequestID: requestID, ClientKey: fake, ObjectID: objectID})
	assertResult(t, res, xrce.StatusLastOpDelete, xrce.StatusErrInvalidData)
	if _, ok := a.Client(clientKey); !ok {
		t.Fatalf("unrelated delete removed the registered client")
	}
}

func TestDeleteClientReleasesEntities(t *testing.T) {
	ctx := context.Background()
	mem := entities.NewMemory()
	a := New(WithFactory(mem))
	assertResult(t, a.CreateClient(ctx, createClientRequest()), xrce.StatusLastOpCreate, xrce.StatusOK)

	for i := 0; i < 3; i++ {
		req := createObjectRequest(xrce.ObjectKindTopic)
		req.ObjectID = xrce.ObjectID{0x00, byte(i)}
		assertResult(t, a.CreateObject(ctx, clientKey, xrce.CreationMode{}, req), xrce.StatusLastOpCreate, xrce.StatusOK)
	}
	if got := len(mem.Live(clientKey)); got != 3 {
		t.Fatalf("want 3 live entities, got %d", got)
	}
	if a.Objects() != 3 {
		t.Fatalf("want 3 objects, got %d", a.Objects())
	}

	c, _ := a.Client(clientKey)
	assertResult(t, a.DeleteClient(ctx, &xrce.DeleteClientRequest{ClientKey: clientKey}), xrce.StatusLastOpDelete, xrce.StatusOK)
	if mem.Count() != 0 {
		t.Fatalf("want all entities released, %d remain", mem.Count())
	}
	if a.Objects() != 0 {
		t.Fatalf("want 0 objects, got %d", a.Objects())
	}
	if c.State() != StateTerminated {
		t.Fatalf("want terminated, got %s", c.State())
	}
	// A handle held from before the delete behaves as an unknown session.
	assertResult(t, c.Create(ctx, xrce.CreationMode{}, createObjectRequest(xrce.ObjectKindTopic)), xrce.StatusLastOpCreate, xrce.StatusErrInvalidData)
	assertResult(t, c.DeleteObject(ctx, &xrce.DeleteObjectRequest{ObjectID: objectID}), xrce.StatusLastOpDelete, xrce.StatusErrInvalidData)
}

func TestReadmission(t *testing.T) {
	ctx := context.Background()

	t.Run("empty session is replaced", func(t *testing.T) {
		a := New()
		assertResult(t, a.CreateClient(ctx, createClientRequest()), xrce.StatusLastOpCreate, xrce.StatusOK)
		first, _ := a.Client(clientKey)

		req := createClientRequest()
		req.RootObjectID = xrce.ObjectID{0x99, 0x99}
		assertResult(t, a.CreateClient(ctx, req), xrce.StatusLastOpCreate, xrce.StatusOK)

		second, _ := a.Client(clientKey)
		if first == second {
			t.Fatalf("expected a fresh session")
		}
		if first.State() != StateTerminated {
			t.Fatalf("replaced session should be terminated")
		}
		if second.RootObjectID() != req.RootObjectID {
			t.Fatalf("want root %s, got %s", req.RootObjectID, second.RootObjectID())
		}
	})

	t.Run("populated session is kept", func(t *testing.T) {
		a := New()
		assertResult(t, a.CreateClient(ctx, createClientRequest()), xrce.StatusLastOpCreate, xrce.StatusOK)
		assertResult(t, a.CreateObject(ctx, clientKey, xrce.CreationMode{}, createObjectRequest(xrce.ObjectKindParticipant)), xrce.StatusLastOpCreate, xrce.StatusOK)
		first, _ := a.Client(clientKey)

		assertResult(t, a.CreateClient(ctx, createClientRequest()), xrce.StatusLastOpCreate, xrce.StatusErrAlreadyExists)
		second, _ := a.Client(clientKey)
		if first != second || second.Len() != 1 {
			t.Fatalf("existing session must be untouched")
		}
	})
}

type testUser string

func (u testUser) UserID() string       { return string(u) }
func (u testUser) Claims(ref any) error { return nil }

func TestTokenAdmission(t *testing.T) {
	authn := auth.AuthenticatorFunc(func(ctx context.Context, tok string) (auth.UserInfo, error) {
		if tok != "good" {
			return nil, auth.ErrUnauthorized
		}
		return testUser("rover-7"), nil
	})

	tests := []struct {
		name  string
		props map[string]string
		want  xrce.ImplStatus
	}{
		{"missing token", nil, xrce.StatusErrInvalidData},
		{"empty token", map[string]string{xrce.TokenProperty: ""}, xrce.StatusErrInvalidData},
		{"bad token", map[string]string{xrce.TokenProperty: "bad"}, xrce.StatusErrInvalidData},
		{"good token", map[string]string{xrce.TokenProperty: "good"}, xrce.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := New(WithAuthenticator(authn))
			req := createClientRequest()
			req.Properties = tt.props
			assertResult(t, a.CreateClient(context.Background(), req), xrce.StatusLastOpCreate, tt.want)
			if tt.want != xrce.StatusOK {
				if a.Len() != 0 {
					t.Fatalf("rejected admission registered a session")
				}
				return
			}
			c, ok := a.Client(clientKey)
			if !ok {
				t.Fatalf("session not registered")
			}
			if got := c.Info().Subject; got != "rover-7" {
				t.Fatalf("want subject rover-7, got %q", got)
			}
		})
	}

	t.Run("version checked before token", func(t *testing.T) {
		a := New(WithAuthenticator(authn))
		req := createClientRequest()
		req.Version.Major = 9
		assertResult(t, a.CreateClient(context.Background(), req), xrce.StatusLastOpCreate, xrce.StatusErrIncompatible)
	})
}

func TestTokenCheckedOnlyAtAdmission(t *testing.T) {
	ctx := context.Background()
	var calls int
	authn := auth.AuthenticatorFunc(func(ctx context.Context, tok string) (auth.UserInfo, error) {
		calls++
		return testUser("rover-7"), nil
	})
	a := New(WithAuthenticator(authn))
	req := createClientRequest()
	req.Origin = "udp://10.0.0.1:7400"
	req.Properties = map[string]string{xrce.TokenProperty: "good"}
	assertResult(t, a.CreateClient(ctx, req), xrce.StatusLastOpCreate, xrce.StatusOK)

	assertResult(t, a.CreateObject(ctx, clientKey, xrce.CreationMode{}, createObjectRequest(xrce.ObjectKindParticipant)), xrce.StatusLastOpCreate, xrce.StatusOK)
	assertResult(t, a.DeleteObject(ctx, clientKey, &xrce.DeleteObjectRequest{ObjectID: objectID}), xrce.StatusLastOpDelete, xrce.StatusOK)
	if calls != 1 {
		t.Fatalf("want one token check, got %d", calls)
	}
	c, _ := a.Client(clientKey)
	if info := c.Info(); info.Origin != req.Origin || info.Subject != "rover-7" {
		t.Fatalf("admitting origin and subject not recorded: %+v", info)
	}
	assertResult(t, a.DeleteClient(ctx, &xrce.DeleteClientRequest{ClientKey: clientKey}), xrce.StatusLastOpDelete, xrce.StatusOK)
	if calls != 1 {
		t.Fatalf("delete must not re-check the token, got %d checks", calls)
	}
}

func TestObjectRoutingUnknownClient(t *testing.T) {
	ctx := context.Background()
	a := New()
	res := a.CreateObject(ctx, clientKey, xrce.CreationMode{}, createObjectRequest(xrce.ObjectKindSubscriber))
	assertResult(t, res, xrce.StatusLastOpCreate, xrce.StatusErrInvalidData)
	if res.RequestID != requestID {
		t.Fatalf("request id not echoed")
	}
	res = a.DeleteObject(ctx, clientKey, &xrce.DeleteObjectRequest{RequestID: 3, ObjectID: objectID})
	assertResult(t, res, xrce.StatusLastOpDelete, xrce.StatusErrInvalidData)
	if res.RequestID != 3 {
		t.Fatalf("request id not echoed")
	}
}

func TestConcurrentDisjointClients(t *testing.T) {
	ctx := context.Background()
	mem := entities.NewMemory()
	a := New(WithFactory(mem))

	const clients = 16
	const objects = 32
	var wg sync.WaitGroup
	errs := make(chan error, clients)
	for i := 0; i < clients; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := xrce.ClientKey{0x01, 0x00, 0x00, byte(i)}
			req := createClientRequest()
			req.ClientKey = key
			if res := a.CreateClient(ctx, req); !res.OK() {
				errs <- fmt.Errorf("client %d admit: %s", i, res)
				return
			}
			for j := 0; j < objects; j++ {
				oreq := createObjectRequest(xrce.ObjectKindDataWriter)
				oreq.ObjectID = xrce.ObjectID{0x00, byte(j)}
				if res := a.CreateObject(ctx, key, xrce.CreationMode{}, oreq); !res.OK() {
					errs <- fmt.Errorf("client %d create %d: %s", i, j, res)
					return
				}
			}
			// Delete every other object.
			for j := 0; j < objects; j += 2 {
				if res := a.DeleteObject(ctx, key, &xrce.DeleteObjectRequest{ObjectID: xrce.ObjectID{0x00, byte(j)}}); !res.OK() {
					errs <- fmt.Errorf("client %d delete %d: %s", i, j, res)
					return
				}
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatal(err)
	}

	infos := a.Clients()
	if len(infos) != clients {
		t.Fatalf("want %d clients, got %d", clients, len(infos))
	}
	for i, info := range infos {
		if info.Key != (xrce.ClientKey{0x01, 0x00, 0x00, byte(i)}) {
			t.Fatalf("clients not ordered: position %d has %s", i, info.Key)
		}
		if len(info.Objects) != objects/2 {
			t.Fatalf("client %s: want %d objects, got %d", info.Key, objects/2, len(info.Objects))
		}
		for _, o := range info.Objects {
			if o.ID[1]%2 == 0 {
				t.Fatalf("client %s: deleted object %s still present", info.Key, o.ID)
			}
		}
	}
	if got, want := a.Objects(), clients*objects/2; got != want {
		t.Fatalf("want %d objects, got %d", want, got)
	}
	if got, want := mem.Count(), clients*objects/2; got != want {
		t.Fatalf("want %d live entities, got %d", want, got)
	}
}

func TestConcurrentDeleteRacingCreate(t *testing.T) {
	ctx := context.Background()
	for round := 0; round < 20; round++ {
		mem := entities.NewMemory()
		a := New(WithFactory(mem))
		assertResult(t, a.CreateClient(ctx, createClientRequest()), xrce.StatusLastOpCreate, xrce.StatusOK)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				req := createObjectRequest(xrce.ObjectKindTopic)
				req.ObjectID = xrce.ObjectID{0x00, byte(j)}
				res := a.CreateObject(ctx, clientKey, xrce.CreationMode{}, req)
				if res.Implementation != xrce.StatusOK && res.Implementation != xrce.StatusErrInvalidData {
					t.Errorf("unexpected create result %s", res)
				}
			}
		}()
		go func() {
			defer wg.Done()
			a.DeleteClient(ctx, &xrce.DeleteClientRequest{ClientKey: clientKey})
		}()
		wg.Wait()

		// Whatever interleaving happened, the deleted session keeps nothing alive.
		if mem.Count() != 0 {
			t.Fatalf("round %d: %d entities leaked", round, mem.Count())
		}
		if a.Objects() != 0 {
			t.Fatalf("round %d: object gauge at %d", round, a.Objects())
		}
	}
}

func TestMetricsRecorded(t *testing.T) {
	ctx := context.Background()
	m := newRecordingMetrics()
	a := New(WithMetrics(m))

	a.CreateClient(ctx, createClientRequest())
	a.CreateObject(ctx, clientKey, xrce.CreationMode{}, createObjectRequest(xrce.ObjectKindTopic))
	a.CreateObject(ctx, clientKey, xrce.CreationMode{}, createObjectRequest(xrce.ObjectKindTopic))
	a.DeleteObject(ctx, clientKey, &xrce.DeleteObjectRequest{ObjectID: xrce.ObjectID{0x77, 0x77}})

	checks := []struct {
		op, status string
		want       int
	}{
		{OpCreateClient, "OK", 1},
		{OpCreate, "OK", 1},
		{OpCreate, "ERR_ALREADY_EXISTS", 1},
		{OpDelete, "ERR_UNKNOWN_REFERENCE", 1},
	}
	for _, c := range checks {
		if got := m.count(c.op, c.status); got != c.want {
			t.Fatalf("%s/%s: want %d, got %d", c.op, c.status, c.want, got)
		}
	}
	if got := m.gauge(MetricClients); got != 1 {
		t.Fatalf("clients gauge: want 1, got %v", got)
	}
	if got := m.gauge(MetricObjects); got != 1 {
		t.Fatalf("objects gauge: want 1, got %v", got)
	}
	if got := m.observations(OpCreate); got != 2 {
		t.Fatalf("create observations: want 2, got %d", got)
	}
}

type recordingMetrics struct {
	mu       sync.Mutex
	counters map[string]int
	gauges   map[string]float64
	hists    map[string]int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{counters: map[string]int{}, gauges: map[string]float64{}, hists: map[string]int{}}
}

func (m *recordingMetrics) IncCounter(name string, tags map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[name+"|"+tags["op"]+"|"+tags["status"]]++
}

func (m *recordingMetrics) ObserveHistogram(name string, value float64, tags map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hists[tags["op"]]++
}

func (m *recordingMetrics) SetGauge(name string, value float64, tags map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gauges[name] = value
}

func (m *recordingMetrics) count(op, status string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters[MetricOperations+"|"+op+"|"+status]
}

func (m *recordingMetrics) gauge(name string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gauges[name]
}

func (m *recordingMetrics) observations(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hists[op]
}

var errFactory = errors.New("downstream unavailable")

// within fails the test if fn does not return in time.
func within(t *testing.T, d time.Duration, fn func()) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn()
	}()
	select {
	case <-done:
	case <-time.After(d):
		t.Fatalf("operation on another key blocked for %s", d)
	}
}

func TestSlowCreateDoesNotBlockOtherKeys(t *testing.T) {
	ctx := context.Background()
	slowKey := xrce.ClientKey{0x0A, 0x00, 0x00, 0x01}
	otherKey := xrce.ClientKey{0x0B, 0x00, 0x00, 0x02}

	setup := func(t *testing.T) (*Agent, *entities.Memory, chan struct{}, chan xrce.ResultStatus) {
		entered := make(chan struct{})
		unblock := make(chan struct{})
		var once sync.Once
		mem := entities.NewMemory()
		mem.Fail = func(req entities.Request) error {
			if req.ClientKey == slowKey {
				once.Do(func() { close(entered) })
				<-unblock
			}
			return nil
		}
		a := New(WithFactory(mem))
		for _, k := range []xrce.ClientKey{slowKey, otherKey} {
			req := createClientRequest()
			req.ClientKey = k
			assertResult(t, a.CreateClient(ctx, req), xrce.StatusLastOpCreate, xrce.StatusOK)
		}
		created := make(chan xrce.ResultStatus, 1)
		go func() {
			created <- a.CreateObject(ctx, slowKey, xrce.CreationMode{}, createObjectRequest(xrce.ObjectKindParticipant))
		}()
		<-entered
		return a, mem, unblock, created
	}

	otherKeysProceed := func(t *testing.T, a *Agent) {
		t.Helper()
		var admitted, created xrce.ResultStatus
		within(t, time.Second, func() {
			req := createClientRequest()
			req.ClientKey = xrce.ClientKey{0x0C, 0x00, 0x00, 0x03}
			admitted = a.CreateClient(ctx, req)
			created = a.CreateObject(ctx, otherKey, xrce.CreationMode{}, createObjectRequest(xrce.ObjectKindParticipant))
		})
		assertResult(t, admitted, xrce.StatusLastOpCreate, xrce.StatusOK)
		assertResult(t, created, xrce.StatusLastOpCreate, xrce.StatusOK)
	}

	t.Run("delete", func(t *testing.T) {
		a, mem, unblock, created := setup(t)
		deleted := make(chan xrce.ResultStatus, 1)
		go func() {
			deleted <- a.DeleteClient(ctx, &xrce.DeleteClientRequest{ClientKey: slowKey})
		}()
		waitFor(t, func() bool {
			_, ok := a.Client(slowKey)
			return !ok
		})
		otherKeysProceed(t, a)

		close(unblock)
		assertResult(t, <-created, xrce.StatusLastOpCreate, xrce.StatusOK)
		assertResult(t, <-deleted, xrce.StatusLastOpDelete, xrce.StatusOK)
		if live := mem.Live(slowKey); len(live) != 0 {
			t.Fatalf("deleted session left %d entities", len(live))
		}
		if got := a.Objects(); got != 1 {
			t.Fatalf("want 1 object, got %d", got)
		}
	})

	t.Run("readmission", func(t *testing.T) {
		a, mem, unblock, created := setup(t)
		readmitted := make(chan xrce.ResultStatus, 1)
		go func() {
			req := createClientRequest()
			req.ClientKey = slowKey
			readmitted <- a.CreateClient(ctx, req)
		}()
		time.Sleep(20 * time.Millisecond)
		otherKeysProceed(t, a)

		close(unblock)
		assertResult(t, <-created, xrce.StatusLastOpCreate, xrce.StatusOK)
		assertResult(t, <-readmitted, xrce.StatusLastOpCreate, xrce.StatusErrAlreadyExists)
		if live := mem.Live(slowKey); len(live) != 1 {
			t.Fatalf("populated session must keep its entity, have %d", len(live))
		}
	})
}
