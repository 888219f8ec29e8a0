package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/labstack/echo/v4"

	"bank-mtls-proxy/internal/client"
	"bank-mtls-proxy/internal/config"
	"bank-mtls-proxy/internal/credential"
	"bank-mtls-proxy/internal/middleware"
	"bank-mtls-proxy/internal/model"
	"bank-mtls-proxy/internal/service"
)

// defaultTokenScope is requested when the caller does not name one.
const defaultTokenScope = "extrato.read boleto-cobranca.read pix.read pix.write cob.read cob.write"

// UpstreamPaths are the fixed upstream paths behind a bank's typed routes.
// An empty path leaves the route unregistered for that bank.
type UpstreamPaths struct {
	Token     string
	Balance   string
	Statement string
	PixCharge string
	Boleto    string
}

// bankPaths holds the upstream path table of every supported bank.
var bankPaths = map[model.Bank]UpstreamPaths{
	model.BankInter: {
		Token:     "/oauth/v2/token",
		Balance:   "/banking/v2/saldo",
		Statement: "/banking/v2/extrato",
		PixCharge: "/pix/v2/cob",
		Boleto:    "/cobranca/v3/cobrancas",
	},
	model.BankSicoob: {
		Balance:   "/conta-corrente/v4/saldo",
		Statement: "/conta-corrente/v4/extrato",
		PixCharge: "/pix/api/v2/cob",
	},
}

// BankHandler forwards one bank's routes to its upstream.
type BankHandler struct {
	bank         model.Bank
	paths        UpstreamPaths
	multiEnv     bool
	service      *service.ForwardService
	exposeErrors bool
	logger       *slog.Logger
}

// BankHandlers holds a BankHandler per supported bank.
type BankHandlers struct {
	handlers []*BankHandler
}

// NewBankHandlers creates a BankHandler for every bank in the store.
func NewBankHandlers(svc *service.ForwardService, store *credential.Store, cfg *config.Config, logger *slog.Logger) *BankHandlers {
	var hs []*BankHandler
	for _, bank := range store.Banks() {
		hs = append(hs, &BankHandler{
			bank:         bank,
			paths:        bankPaths[bank],
			multiEnv:     store.MultiEnvironment(bank),
			service:      svc,
			exposeErrors: cfg.Upstream.ExposeErrors,
			logger:       logger.With("component", "bank_handler", "bank", string(bank)),
		})
	}
	return &BankHandlers{handlers: hs}
}

// Register mounts h's routes on g, which must already carry the shared-secret check.
func (h *BankHandler) Register(g *echo.Group) {
	if h.paths.Token != "" {
		g.POST("/oauth/token", h.Token)
	}
	if h.paths.Balance != "" {
		g.GET("/banking/saldo", h.Balance)
	}
	if h.paths.Statement != "" {
		g.GET("/banking/extrato", h.Statement)
	}
	if h.paths.PixCharge != "" {
		g.POST("/pix/cob", h.CreatePixCharge)
		g.PUT("/pix/cob/:txid", h.PutPixCharge)
		g.GET("/pix/cob/:txid", h.GetPixCharge)
	}
	if h.paths.Boleto != "" {
		g.POST("/boleto", h.CreateBoleto)
		g.GET("/boleto/:id", h.GetBoleto)
	}
	g.Any("/proxy/*", h.Passthrough)
}

type tokenRequest struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	Scope        string `json:"scope"`
}

// Token exchanges client credentials for an OAuth token upstream.
func (h *BankHandler) Token(c echo.Context) error {
	var in tokenRequest
	if err := c.Bind(&in); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid token request body"})
	}
	if in.Scope == "" {
		in.Scope = defaultTokenScope
	}
	form := url.Values{
		"client_id":     {in.ClientID},
		"client_secret": {in.ClientSecret},
		"grant_type":    {"client_credentials"},
		"scope":         {in.Scope},
	}
	return h.forward(c, http.MethodPost, h.paths.Token, echo.MIMEApplicationForm, []byte(form.Encode()))
}

// Balance relays the account balance query.
func (h *BankHandler) Balance(c echo.Context) error {
	return h.forward(c, http.MethodGet, h.paths.Balance, "", nil)
}

// Statement relays the account statement query for a date range.
func (h *BankHandler) Statement(c echo.Context) error {
	q := c.QueryParams()
	path := service.WithQuery(h.paths.Statement, url.Values{
		"dataInicio": {q.Get("dataInicio")},
		"dataFim":    {q.Get("dataFim")},
	})
	return h.forward(c, http.MethodGet, path, "", nil)
}

// CreatePixCharge creates an immediate PIX charge with an upstream-assigned txid.
func (h *BankHandler) CreatePixCharge(c echo.Context) error {
	return h.forwardJSONBody(c, http.MethodPost, h.paths.PixCharge)
}

// PutPixCharge creates or replaces the PIX charge identified by :txid.
func (h *BankHandler) PutPixCharge(c echo.Context) error {
	return h.forwardJSONBody(c, http.MethodPut, service.UpstreamPath(h.paths.PixCharge, c.Param("txid")))
}

// GetPixCharge queries the PIX charge identified by :txid.
func (h *BankHandler) GetPixCharge(c echo.Context) error {
	return h.forward(c, http.MethodGet, service.UpstreamPath(h.paths.PixCharge, c.Param("txid")), "", nil)
}

// CreateBoleto issues a boleto charge.
func (h *BankHandler) CreateBoleto(c echo.Context) error {
	return h.forwardJSONBody(c, http.MethodPost, h.paths.Boleto)
}

// GetBoleto queries the boleto charge identified by :id.
func (h *BankHandler) GetBoleto(c echo.Context) error {
	return h.forward(c, http.MethodGet, service.UpstreamPath(h.paths.Boleto, c.Param("id")), "", nil)
}

// Passthrough relays any method and path under /{bank}/proxy/ to the same
// path upstream. It is an untyped escape hatch: path and query string are sent
// exactly as received and no request-shape validation is applied.
func (h *BankHandler) Passthrough(c echo.Context) error {
	req := c.Request()
	prefix := "/" + string(h.bank) + "/proxy"
	path := strings.TrimPrefix(req.URL.EscapedPath(), prefix)
	if path == "" {
		path = "/"
	}
	if req.URL.RawQuery != "" {
		path += "?" + req.URL.RawQuery
	}

	var body []byte
	if req.Method != http.MethodGet && req.Method != http.MethodHead {
		b, err := io.ReadAll(req.Body)
		if err != nil {
			return h.bodyError(c, err)
		}
		body = b
	}

	contentType := req.Header.Get(echo.HeaderContentType)
	if contentType == "" {
		contentType = echo.MIMEApplicationJSON
	}
	return h.forward(c, req.Method, path, contentType, body)
}

// forwardJSONBody relays the raw inbound body as JSON.
func (h *BankHandler) forwardJSONBody(c echo.Context, method, path string) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return h.bodyError(c, err)
	}
	return h.forward(c, method, path, echo.MIMEApplicationJSON, body)
}

// forward builds the ForwardRequest, sends it and relays status and body verbatim.
func (h *BankHandler) forward(c echo.Context, method, path, contentType string, body []byte) error {
	req := c.Request()
	header := service.FilterRequestHeaders(req.Header)
	if len(body) > 0 {
		model.SetBody(header, contentType, body)
	}

	fr, err := model.NewForwardRequest(method, path, header, body)
	if err != nil {
		return h.mapError(c, err)
	}

	env := model.EnvProduction
	if h.multiEnv {
		env = model.ParseEnvironment(req.Header.Get(middleware.HeaderEnvironment))
	}

	resp, err := h.service.Forward(req.Context(), h.bank, env, fr)
	if err != nil {
		return h.mapError(c, err)
	}

	for key, vals := range resp.Header {
		for _, v := range vals {
			c.Response().Header().Add(key, v)
		}
	}
	c.Response().WriteHeader(resp.StatusCode)
	if _, err := c.Response().Write(resp.Body); err != nil {
		h.logger.Error("writing response body", "err", err, "path", req.URL.Path)
	}
	return nil
}

func (h *BankHandler) bodyError(c echo.Context, err error) error {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		// Body limit exceeded.
		return he
	}
	h.logger.Warn("reading request body", "err", err)
	return c.JSON(http.StatusBadRequest, map[string]string{"error": "could not read request body"})
}

func (h *BankHandler) mapError(c echo.Context, err error) error {
	path := c.Request().URL.Path

	var ce *credential.ConfigError
	if errors.As(err, &ce) {
		h.logger.Error("credential configuration error",
			"err", err,
			"field", ce.Field,
			"path", path,
		)
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "bank credentials are not configured",
		})
	}

	if errors.Is(err, model.ErrInvalidRequest) {
		h.logger.Warn("invalid forward request", "err", err, "path", path)
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "invalid request",
		})
	}

	var ne *client.NetworkError
	if errors.As(err, &ne) {
		h.logger.Error("upstream network error",
			"err", err,
			"host", ne.Host,
			"path", path,
		)
		status, msg := http.StatusBadGateway, "upstream request failed"
		if ne.Timeout() {
			status, msg = http.StatusGatewayTimeout, "upstream request timed out"
		}
		if h.exposeErrors {
			msg = ne.Err.Error()
		}
		return c.JSON(status, map[string]string{"error": msg})
	}

	h.logger.Error("forward error", "err", err, "path", path)
	return c.JSON(http.StatusInternalServerError, map[string]string{
		"error": "internal error",
	})
}
