package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"slices"
	"strings"

	"github.com/rs/zerolog"

	"aldar.app/internal/apiconfig"
	"aldar.app/internal/apperr"
	"aldar.app/internal/auth"
	"aldar.app/internal/codec"
	"aldar.app/internal/errlog"
	"aldar.app/internal/obs"
	"aldar.app/internal/session"
)

const (
	msgEncryptionMissing = "Encryption Missing"
	msgDecryptFailed     = "Something went wrong"
	msgSessionRequired   = `A valid "session_token" is required.`
	msgSessionInvalid    = `Invalid "session_token" provided.`
	msgTokenNotValid     = "Token is not valid"
)

// FlagSource serves the api_configurations groups.
type FlagSource interface {
	Get(ctx context.Context, group string) (apiconfig.Values, error)
}

// PrincipalResolver turns a session token into the calling user.
type PrincipalResolver interface {
	Resolve(ctx context.Context, company, token string) (session.Principal, error)
}

// IncomingRecorder persists partner requests to incoming_api_logs.
type IncomingRecorder interface {
	RecordIncoming(ctx context.Context, e errlog.Entry) error
}

// Validator is one link of the authentication chain. It either rejects the
// call or passes it on with next.
type Validator func(c *Call, next func() error) error

// Endpoint declares one route and the pipeline behavior around its handler.
type Endpoint struct {
	Method  string
	Path    string
	Logger  string
	LogFile string
	// Envelope defaults to Standard.
	Envelope Envelope

	OptionalToken bool // requests without a bearer token pass as anonymous
	StrictToken   bool // the bearer token must carry a session_token
	BasicAuth     bool // partner callback; replaces the bearer check
	SkipDecrypt   bool
	SkipEncrypt   bool
	LogRequest    bool // persist the request when log_api_request is on

	// Validators replaces the chain derived from the flags above.
	Validators []Validator
	Args       []Arg
	Handle     func(c *Call) error
}

// Call is the state of one request as it moves through the pipeline.
type Call struct {
	Request   *http.Request
	Log       zerolog.Logger
	Principal session.Principal
	Partner   string
	Body      map[string]any
	Args      Args

	// Writer lets an endpoint write its own response. When it does, the
	// pipeline adds nothing; when it neither writes nor responds, the answer is 204.
	Writer http.ResponseWriter

	out      *statusWriter
	raw      []byte
	env      Envelope
	status   int
	response map[string]any
	send     bool
	encrypt  bool
	release  []func() error
}

func (c *Call) Context() context.Context { return c.Request.Context() }

// Reply answers 200 with the endpoint envelope.
func (c *Call) Reply(message string, data any) {
	c.Respond(http.StatusOK, c.env.Success(message, data))
}

// Respond sets the status and body written after the handler returns.
func (c *Call) Respond(status int, body map[string]any) {
	c.status = status
	c.response = body
	c.send = true
}

// OnRelease registers fn to run after the response, whatever the outcome.
func (c *Call) OnRelease(fn func() error) {
	c.release = append(c.release, fn)
}

func (c *Call) withContext(ctx context.Context) {
	c.Request = c.Request.WithContext(ctx)
}

type PipelineConfig struct {
	Company  string
	Debug    bool
	Codec    *codec.Codec
	Flags    FlagSource
	Tokens   *auth.Decoder
	Sessions PrincipalResolver
	// Partners is nil when callback basic auth is disabled.
	Partners *auth.BasicAuthenticator
	ErrLog   errlog.Recorder
	Incoming IncomingRecorder
}

// Pipeline wraps endpoint handlers with decryption, authentication, argument
// parsing, error formatting and response encryption.
type Pipeline struct {
	cfg PipelineConfig
}

func NewPipeline(cfg PipelineConfig) *Pipeline {
	if cfg.Flags == nil {
		cfg.Flags = apiconfig.Static{}
	}
	return &Pipeline{cfg: cfg}
}

// Mount registers eps on mux. Registration fails on the first endpoint that
// is missing its handler or its log file.
func (p *Pipeline) Mount(mux *http.ServeMux, eps ...Endpoint) error {
	for _, ep := range eps {
		h, err := p.Handler(ep)
		if err != nil {
			return err
		}
		mux.Handle(ep.Method+" "+ep.Path, h)
	}
	return nil
}

func (p *Pipeline) Handler(ep Endpoint) (http.Handler, error) {
	if ep.Handle == nil {
		return nil, apperr.Config("no handler for " + ep.Method + " " + ep.Path)
	}
	log, err := obs.Named(ep.Logger, ep.LogFile)
	if err != nil {
		return nil, err
	}
	env := ep.Envelope
	if env == nil {
		env = Standard{}
	}
	chain := ep.Validators
	if chain == nil {
		chain = p.defaultChain(ep)
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		out := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		c := &Call{
			Writer:    out,
			out:       out,
			Request:   r,
			Log:       log.With().Str("request_id", RequestIDFromContext(r.Context())).Logger(),
			Principal: session.Anonymous(p.cfg.Company),
			Body:      map[string]any{},
			env:       env,
			status:    http.StatusOK,
		}
		defer p.releaseAll(c)
		p.serve(w, c, ep, chain)
	}), nil
}

func (p *Pipeline) serve(w http.ResponseWriter, c *Call, ep Endpoint, chain []Validator) {
	ctx := c.Context()
	if err := p.readBody(c); err != nil {
		p.fail(w, c, err)
		return
	}
	flags, err := p.cfg.Flags.Get(ctx, apiconfig.GroupPublic)
	if err != nil {
		p.fail(w, c, apperr.Internal(err))
		return
	}
	c.encrypt = flags.Bool(apiconfig.EnableResponseEncryption) && !ep.SkipEncrypt
	if flags.Bool(apiconfig.EnableJSONDecryption) && !ep.SkipDecrypt {
		if msg, ok := p.decrypt(c); !ok {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"message": msg})
			return
		}
	}
	if ep.LogRequest && flags.Bool(apiconfig.LogAPIRequest) {
		p.logIncoming(c)
	}

	err = runChain(c, chain, func() error {
		args, err := parseArgs(ep.Args, c.Body, c.Request.URL.Query())
		if err != nil {
			return err
		}
		c.Args = args
		return ep.Handle(c)
	})
	if err != nil {
		p.fail(w, c, err)
		return
	}
	if !c.send {
		if !c.out.wrote {
			w.WriteHeader(http.StatusNoContent)
		}
		return
	}
	p.write(w, c, c.status, c.response)
}

func (p *Pipeline) readBody(c *Call) error {
	if c.Request.Body == nil {
		return nil
	}
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return &apperr.Error{Kind: apperr.KindValidation, Status: http.StatusRequestEntityTooLarge,
				Code: http.StatusRequestEntityTooLarge, Message: "Request body too large", Err: err}
		}
		return apperr.Validation("Failed to read request body")
	}
	c.raw = raw
	if len(strings.TrimSpace(string(raw))) == 0 {
		return nil
	}
	body := map[string]any{}
	if err := json.Unmarshal(raw, &body); err != nil {
		return apperr.Validation("Failed to decode JSON object")
	}
	c.Body = body
	return nil
}

// decrypt replaces the body with the decoded params. An empty body has
// nothing to decrypt; a body without params is rejected.
func (p *Pipeline) decrypt(c *Call) (string, bool) {
	if len(c.Body) == 0 {
		return "", true
	}
	wire, _ := c.Body["params"].(string)
	if wire == "" {
		c.Log.Warn().Str("path", fullPath(c.Request)).Msg("request without encrypted params")
		return msgEncryptionMissing, false
	}
	if p.cfg.Codec == nil {
		c.Log.Error().Msg("json decryption enabled without a codec")
		return msgDecryptFailed, false
	}
	params, err := p.cfg.Codec.DecodeParams(wire)
	if err != nil {
		c.Log.Error().Err(err).Str("path", fullPath(c.Request)).Int("params_len", len(wire)).Msg("Error occurred while decrypting")
		return msgDecryptFailed, false
	}
	delete(c.Body, "params")
	for k, v := range params {
		c.Body[k] = v
	}
	return "", true
}

func runChain(c *Call, chain []Validator, final func() error) error {
	var step func(i int) error
	step = func(i int) error {
		if i == len(chain) {
			return final()
		}
		return chain[i](c, func() error { return step(i + 1) })
	}
	return step(0)
}

func (p *Pipeline) defaultChain(ep Endpoint) []Validator {
	if ep.BasicAuth {
		return []Validator{p.basic}
	}
	return []Validator{p.bearer(ep.OptionalToken, ep.StrictToken)}
}

// bearer checks the JWT and, when it carries a session_token, resolves the
// session into the call principal.
func (p *Pipeline) bearer(optional, strict bool) Validator {
	return func(c *Call, next func() error) error {
		header := c.Request.Header.Get("Authorization")
		if strings.TrimSpace(header) == "" {
			if optional {
				return next()
			}
			return apperr.Unauthorized(auth.MsgMissing)
		}
		if p.cfg.Tokens == nil {
			return apperr.Internal(errors.New("bearer auth without a token decoder"))
		}
		claims, err := p.cfg.Tokens.Decode(header)
		if err != nil {
			return err
		}
		if claims.SessionToken == "" {
			if strict {
				return apperr.Forbidden(msgSessionRequired)
			}
		} else {
			if p.cfg.Sessions == nil {
				return apperr.Internal(errors.New("session token without a resolver"))
			}
			pr, err := p.cfg.Sessions.Resolve(c.Context(), claims.Company, claims.SessionToken)
			switch {
			case errors.Is(err, session.ErrUnknownSession):
				return apperr.Forbidden(msgSessionInvalid)
			case errors.Is(err, session.ErrUnauthenticated):
				return apperr.Forbidden(msgTokenNotValid)
			case err != nil:
				return apperr.Internal(err)
			}
			c.Principal = pr
		}
		ctx := auth.ContextWithClaims(c.Context(), claims)
		c.withContext(session.ContextWithPrincipal(ctx, c.Principal))
		return next()
	}
}

func (p *Pipeline) basic(c *Call, next func() error) error {
	if p.cfg.Partners == nil {
		return next()
	}
	user, err := p.cfg.Partners.Check(c.Request)
	if err != nil {
		return err
	}
	c.Partner = user
	c.withContext(auth.ContextWithPartner(c.Context(), user))
	return next()
}

// fail formats err with the endpoint envelope. In debug mode the error is
// raised instead and Recover answers.
func (p *Pipeline) fail(w http.ResponseWriter, c *Call, err error) {
	if p.cfg.Debug {
		panic(err)
	}
	e, ok := apperr.As(err)
	if !ok {
		e = apperr.Internal(err)
	}
	ev := c.Log.Warn()
	if e.Status >= http.StatusInternalServerError {
		ev = c.Log.Error()
	}
	ev.Err(err).
		Str("path", fullPath(c.Request)).
		Strs("params", argNames(c)).
		Int("status", e.Status).
		Msg("Exception occurred")

	body := c.env.Failure(e)
	errlog.Record(c.Context(), p.cfg.ErrLog, errlog.Entry{
		Company:        p.cfg.Company,
		ConsumerIP:     clientIP(c.Request),
		Endpoint:       c.Request.URL.Path,
		Method:         c.Request.Method,
		RequestBody:    string(c.raw),
		RequestHeaders: errlog.JSON(loggedHeaders(c.Request.Header)),
		ResponseBody:   errlog.JSON(body),
		HTTPErrorCode:  e.Status,
		ErrorMessage:   err.Error(),
	})
	p.write(w, c, e.Status, body)
}

func (p *Pipeline) write(w http.ResponseWriter, c *Call, status int, body map[string]any) {
	if body == nil {
		body = map[string]any{}
	}
	c.env.Seal(c.Request, body, status)
	if c.encrypt && p.cfg.Codec != nil && (status == http.StatusOK || status == http.StatusCreated) && !empty(body["data"]) {
		writeJSON(w, status, p.cfg.Codec.EncodeJSON(body))
		return
	}
	writeJSON(w, status, body)
}

func (p *Pipeline) logIncoming(c *Call) {
	if p.cfg.Incoming == nil {
		return
	}
	err := p.cfg.Incoming.RecordIncoming(c.Context(), errlog.Entry{
		Company:        p.cfg.Company,
		ConsumerIP:     clientIP(c.Request),
		Endpoint:       c.Request.URL.Path,
		Method:         c.Request.Method,
		RequestBody:    string(c.raw),
		RequestHeaders: errlog.JSON(loggedHeaders(c.Request.Header)),
	})
	if err != nil {
		c.Log.Error().Err(err).Msg("Error occurred while logging request")
	}
}

func (p *Pipeline) releaseAll(c *Call) {
	for _, fn := range slices.Backward(c.release) {
		if err := fn(); err != nil {
			c.Log.Error().Err(err).Msg("Error occurred while releasing resources")
		}
	}
}

// argNames lists the parameters of the call without their values.
func argNames(c *Call) []string {
	names := make([]string, 0, len(c.Body))
	for k := range c.Body {
		names = append(names, k)
	}
	slices.Sort(names)
	return names
}

func loggedHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k := range h {
		if strings.EqualFold(k, "Authorization") {
			out[k] = "***"
			continue
		}
		out[k] = h.Get(k)
	}
	return out
}
