package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"AlertaPiura/internal/models"
	"AlertaPiura/internal/realtime"
	"AlertaPiura/internal/sos"
	"AlertaPiura/internal/store"
	"AlertaPiura/pkg/config"
	"AlertaPiura/pkg/i18n"
	"AlertaPiura/pkg/metrics"
	"AlertaPiura/pkg/middleware"
	"AlertaPiura/pkg/sse"
	"AlertaPiura/pkg/util"
	"AlertaPiura/pkg/websocket"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sink struct {
	mu   sync.Mutex
	envs []realtime.Envelope
}

func (*sink) Name() string { return "test" }

func (s *sink) Deliver(env realtime.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.envs = append(s.envs, env)
	return nil
}

func (s *sink) named(event string) []realtime.Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []realtime.Envelope
	for _, e := range s.envs {
		if e.Event == event {
			out = append(out, e)
		}
	}
	return out
}

func (s *sink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.envs)
}

type server struct {
	engine   *gin.Engine
	sink     *sink
	events   *realtime.Broadcaster
	citizen  string
	stranger string
	operator string
}

func newServer(t *testing.T) *server {
	gin.SetMode(gin.TestMode)

	db, err := util.InitDatabase("sqlite", "", false)
	require.NoError(t, err)
	st := store.New(db)
	require.NoError(t, st.Migrate(true))
	require.NoError(t, db.AutoMigrate(&middleware.OperationLog{}))
	require.NoError(t, db.Create(&models.User{ID: 7, Nombre: "Rosa Chávez", Alias: "rosa", Telefono: "944111222", Rol: "ciudadano"}).Error)

	m := metrics.NewMetrics()
	rec := &sink{}
	events := realtime.NewBroadcaster(realtime.Options{Lanes: 4, NodeID: "test"}, m, rec)
	hub := websocket.NewHub(nil)
	t.Cleanup(func() {
		events.Close()
		hub.Close()
	})

	svc := sos.NewService(st, events, nil, nil, m, sos.Options{NotifyTimeout: time.Second}).WithSignals(util.NewSignals())
	auth := middleware.NewAuthenticator("test-secret")
	bundle, err := i18n.NewI18nSupport("es")
	require.NoError(t, err)

	engine := gin.New()
	engine.Use(middleware.LanguageMiddleware(bundle))
	NewHandlers(Deps{
		Config:  &config.Config{APIPrefix: "/api", IdempotencyTTL: time.Minute},
		Service: svc,
		Store:   st,
		Auth:    auth,
		Hub:     hub,
		Stream:  sse.NewHub(time.Second),
		Metrics: m,
	}).Register(engine)

	citizen, err := auth.Issue(middleware.TokenUser{ID: 7, Rol: "ciudadano"}, time.Hour)
	require.NoError(t, err)
	stranger, err := auth.Issue(middleware.TokenUser{ID: 99, Rol: "ciudadano"}, time.Hour)
	require.NoError(t, err)
	operator, err := auth.Issue(middleware.TokenUser{ID: 1, Rol: "admin"}, time.Hour)
	require.NoError(t, err)

	return &server{engine: engine, sink: rec, events: events, citizen: citizen, stranger: stranger, operator: operator}
}

func (s *server) do(method, path, token string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

type activateResponse struct {
	Message string        `json:"message"`
	Alert   sos.AlertView `json:"alert"`
}

func (s *server) activate(t *testing.T, body any) sos.AlertView {
	w := s.do(http.MethodPost, "/api/sos/activate", s.citizen, body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode[activateResponse](t, w).Alert
}

func TestActivateEndpoint(t *testing.T) {
	s := newServer(t)

	w := s.do(http.MethodPost, "/api/sos/activate", s.citizen, gin.H{
		"lat": -5.19, "lon": -80.63,
		"emergencyContact":  gin.H{"nombre": "Mamá", "telefono": "987654321", "mensaje": "help"},
		"durationInSeconds": 600,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	res := decode[activateResponse](t, w)

	assert.Equal(t, "Alerta SOS activada.", res.Message)
	assert.Regexp(t, `^SOS-\d{4}-00001$`, res.Alert.CodigoAlerta)
	assert.Equal(t, models.EstadoActivo, res.Alert.Estado)
	assert.Nil(t, res.Alert.FechaFin)
	require.NotNil(t, res.Alert.Usuario)
	assert.Equal(t, "Rosa Chávez", res.Alert.Usuario.Nombre)

	w = s.do(http.MethodGet, "/api/sos/1/history", s.citizen, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []models.Point{{Lat: -5.19, Lon: -80.63}}, decode[[]models.Point](t, w))

	assert.Eventually(t, func() bool { return len(s.sink.named(realtime.EventNewAlert)) == 1 }, time.Second, 10*time.Millisecond)
}

func TestActivateWithoutBody(t *testing.T) {
	s := newServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api/sos/activate", nil)
	req.Header.Set("Authorization", "Bearer "+s.citizen)
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusCreated, w.Code, w.Body.String())
}

func TestActivateIdempotencyKey(t *testing.T) {
	s := newServer(t)
	send := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/sos/activate", bytes.NewBufferString(body))
		req.Header.Set("Authorization", "Bearer "+s.citizen)
		req.Header.Set("Idempotency-Key", "tap-1")
		w := httptest.NewRecorder()
		s.engine.ServeHTTP(w, req)
		return w
	}

	// a failed tap must not lock the key
	assert.Equal(t, http.StatusBadRequest, send(`{"durationInSeconds":-1}`).Code)

	first := send(`{}`)
	require.Equal(t, http.StatusCreated, first.Code, first.Body.String())
	again := send(`{}`)
	require.Equal(t, http.StatusCreated, again.Code)
	assert.Equal(t, "true", again.Header().Get(middleware.ReplayedHeader))
	assert.Equal(t, decode[activateResponse](t, first).Alert.ID, decode[activateResponse](t, again).Alert.ID)

	w := s.do(http.MethodGet, "/api/sos/all", s.operator, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]sos.AlertView](t, w), 1)
}

func TestAuthRequired(t *testing.T) {
	s := newServer(t)
	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodPost, "/api/sos/activate", "", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodGet, "/api/sos/active", "garbage", nil).Code)
}

func TestRecordLocationEndpoint(t *testing.T) {
	s := newServer(t)
	a := s.activate(t, gin.H{})
	path := "/api/sos/" + jsonID(a.ID) + "/location"

	w := s.do(http.MethodPost, path, s.citizen, gin.H{"lat": -5.19})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Coordenadas requeridas.", decode[gin.H](t, w)["message"])

	for _, p := range []gin.H{{"lat": -5.20, "lon": -80.64}, {"lat": -5.21, "lon": -80.65}} {
		require.Equal(t, http.StatusOK, s.do(http.MethodPost, path, s.citizen, p).Code)
	}

	w = s.do(http.MethodGet, "/api/sos/"+jsonID(a.ID)+"/history", s.citizen, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []models.Point{{Lat: -5.20, Lon: -80.64}, {Lat: -5.21, Lon: -80.65}}, decode[[]models.Point](t, w))

	assert.Equal(t, http.StatusNotFound, s.do(http.MethodPost, "/api/sos/999/location", s.citizen, gin.H{"lat": 1, "lon": 1}).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodPost, "/api/sos/abc/location", s.citizen, gin.H{"lat": 1, "lon": 1}).Code)

	assert.Eventually(t, func() bool { return len(s.sink.named(realtime.EventLocationUpdate)) == 2 }, time.Second, 10*time.Millisecond)
}

func TestUpdateStatusEndpoint(t *testing.T) {
	s := newServer(t)
	a := s.activate(t, gin.H{"lat": -5.19, "lon": -80.63})
	path := "/api/sos/" + jsonID(a.ID) + "/status"

	assert.Equal(t, http.StatusForbidden, s.do(http.MethodPut, path, s.citizen, gin.H{"estado": "finalizado"}).Code)

	// let the activation event through before counting
	assert.Eventually(t, func() bool { return s.sink.count() == 1 }, time.Second, 10*time.Millisecond)

	w := s.do(http.MethodPut, path, s.operator, gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "No hay campos para actualizar.", decode[gin.H](t, w)["message"])

	w = s.do(http.MethodPut, path, s.operator, gin.H{"estado_atencion": "En Curso"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Nil(t, decode[sos.AlertView](t, w).FechaFin)

	w = s.do(http.MethodPut, path, s.operator, gin.H{"estado": "finalizado"})
	require.Equal(t, http.StatusOK, w.Code)
	done := decode[sos.AlertView](t, w)
	assert.Equal(t, models.EstadoFinalizado, done.Estado)
	assert.NotNil(t, done.FechaFin)

	assert.Eventually(t, func() bool { return len(s.sink.named(realtime.EventStop)) == 1 }, time.Second, 10*time.Millisecond)
	stop := s.sink.named(realtime.EventStop)[0]
	assert.JSONEq(t, `{"alertId":`+jsonID(a.ID)+`}`, string(stop.Data))
	assert.Len(t, s.sink.named(realtime.EventAlertUpdated), 2)

	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodPut, path, s.operator, gin.H{"estado": "activo"}).Code)
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodPut, "/api/sos/999/status", s.operator, gin.H{"revisada": true}).Code)

	// late fixes are still kept
	require.Equal(t, http.StatusOK, s.do(http.MethodPost, "/api/sos/"+jsonID(a.ID)+"/location", s.citizen, gin.H{"lat": 0, "lon": 0}).Code)
	w = s.do(http.MethodGet, "/api/sos/"+jsonID(a.ID)+"/history", s.citizen, nil)
	assert.Len(t, decode[[]models.Point](t, w), 2)
}

func TestMarkReviewedEndpoint(t *testing.T) {
	s := newServer(t)
	a := s.activate(t, gin.H{})

	assert.Equal(t, http.StatusNoContent, s.do(http.MethodPost, "/api/sos/"+jsonID(a.ID)+"/reviewed", s.operator, nil).Code)

	w := s.do(http.MethodGet, "/api/sos/"+jsonID(a.ID), s.citizen, nil)
	require.Equal(t, http.StatusOK, w.Code)
	v := decode[sos.AlertView](t, w)
	assert.True(t, v.Revisada)
	assert.Equal(t, models.EstadoActivo, v.Estado)
}

func TestListingsEndpoints(t *testing.T) {
	s := newServer(t)
	first := s.activate(t, gin.H{})
	s.activate(t, gin.H{})
	require.Equal(t, http.StatusOK, s.do(http.MethodPut, "/api/sos/"+jsonID(first.ID)+"/status", s.operator, gin.H{"estado": "finalizado"}).Code)

	w := s.do(http.MethodGet, "/api/sos/active", s.citizen, nil)
	require.Equal(t, http.StatusOK, w.Code)
	active := decode[[]sos.AlertView](t, w)
	require.Len(t, active, 1)
	assert.Empty(t, active[0].Usuario.Telefono)

	assert.Equal(t, http.StatusForbidden, s.do(http.MethodGet, "/api/sos/all", s.citizen, nil).Code)
	w = s.do(http.MethodGet, "/api/sos/all", s.operator, nil)
	require.Equal(t, http.StatusOK, w.Code)
	all := decode[[]sos.AlertView](t, w)
	require.Len(t, all, 2)
	assert.Equal(t, "944111222", all[0].Usuario.Telefono)

	w = s.do(http.MethodGet, "/api/admin/sos-dashboard", s.operator, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]sos.AlertView](t, w), 2)

	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/api/admin/sms-log", s.operator, nil).Code)
	assert.Equal(t, http.StatusForbidden, s.do(http.MethodGet, "/api/admin/sms-log", s.citizen, nil).Code)
}

func TestOtherCitizensSeeNoContactOrPosition(t *testing.T) {
	s := newServer(t)
	a := s.activate(t, gin.H{
		"lat": -5.19, "lon": -80.63,
		"emergencyContact": gin.H{"nombre": "Mamá", "telefono": "987654321", "mensaje": "help"},
	})
	id := jsonID(a.ID)

	w := s.do(http.MethodGet, "/api/sos/active", s.stranger, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "987654321")
	assert.NotContains(t, w.Body.String(), "help")
	active := decode[[]sos.AlertView](t, w)
	require.Len(t, active, 1)
	assert.Nil(t, active[0].ContactoNombre)
	assert.Nil(t, active[0].Latitude)
	assert.Nil(t, active[0].Lat)
	assert.Equal(t, "rosa", active[0].Usuario.Alias)

	w = s.do(http.MethodGet, "/api/sos/"+id, s.stranger, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "987654321")
	assert.Nil(t, decode[sos.AlertView](t, w).Longitude)

	assert.Equal(t, http.StatusForbidden, s.do(http.MethodGet, "/api/sos/"+id+"/history", s.stranger, nil).Code)

	for _, token := range []string{s.citizen, s.operator} {
		w = s.do(http.MethodGet, "/api/sos/"+id, token, nil)
		require.Equal(t, http.StatusOK, w.Code)
		v := decode[sos.AlertView](t, w)
		require.NotNil(t, v.ContactoTelefono)
		assert.Equal(t, "987654321", *v.ContactoTelefono)
		assert.Equal(t, -5.19, *v.Latitude)
	}
	w = s.do(http.MethodGet, "/api/sos/active", s.operator, nil)
	assert.Contains(t, w.Body.String(), "987654321")
}

func TestPushDisabled(t *testing.T) {
	s := newServer(t)
	assert.Equal(t, http.StatusServiceUnavailable, s.do(http.MethodGet, "/api/push/vapid-key", s.operator, nil).Code)
}

func TestSocketStatsNeedOperator(t *testing.T) {
	s := newServer(t)
	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodGet, websocket.RouteWebSocketStats, "", nil).Code)
	assert.Equal(t, http.StatusForbidden, s.do(http.MethodGet, websocket.RouteWebSocketStats, s.citizen, nil).Code)

	w := s.do(http.MethodGet, websocket.RouteWebSocketStats, s.operator, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, decode[gin.H](t, w), "total_connections")
}

func TestHealthCheck(t *testing.T) {
	s := newServer(t)
	w := s.do(http.MethodGet, "/api/healthcheck", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", decode[gin.H](t, w)["status"])
}

func jsonID(id int64) string {
	b, _ := json.Marshal(id)
	return string(b)
}
