package log

// Common field names for structured logging
const (
	FieldComponent  = "component"
	FieldRequestID  = "request_id"
	FieldClientIP   = "client_ip"
	FieldMethod     = "method"
	FieldPath       = "path"
	FieldQuery      = "query"
	FieldStatusCode = "status_code"
	FieldDuration   = "duration_ms"
	FieldUserAgent  = "user_agent"
	FieldSuccess    = "success"
	FieldError      = "error"
	FieldOperation  = "operation"
	FieldOwnerID    = "owner_id"
	FieldSessionID  = "session_id"
	FieldDocumentID = "document_id"
	FieldCollection = "collection"
	FieldProvider   = "provider"
	FieldAmount     = "amount_cents"
	FieldCategory   = "category"
	FieldCount      = "count"
)

// Components defines standard component names
const (
	ComponentApp       = "app"
	ComponentHTTP      = "http"
	ComponentStore     = "store"
	ComponentEvents    = "events"
	ComponentAMQP      = "amqp"
	ComponentRedis     = "redis"
	ComponentIdentity  = "identity"
	ComponentSession   = "session"
	ComponentFeed      = "feed"
	ComponentGateway   = "gateway"
	ComponentExport    = "export"
	ComponentWorker    = "worker"
	ComponentSecurity  = "security"
	ComponentRateLimit = "rate_limit"
	ComponentBackend   = "backend"
	ComponentTemplate  = "template"
)

// Operations defines standard operation names
const (
	OpCreate    = "create"
	OpRead      = "read"
	OpUpdate    = "update"
	OpDelete    = "delete"
	OpQuery     = "query"
	OpWatch     = "watch"
	OpPublish   = "publish"
	OpConsume   = "consume"
	OpNormalize = "normalize"
	OpSignIn    = "sign_in"
	OpSignOut   = "sign_out"
	OpRegister  = "register"
	OpExport    = "export"
	OpRender    = "render"
	OpShutdown  = "shutdown"
	OpStartup   = "startup"
)

// LogFields provides a builder pattern for structured log fields
type LogFields map[string]any

// NewFields creates a new LogFields instance
func NewFields() LogFields {
	return make(LogFields)
}

func (f LogFields) WithComponent(component string) LogFields {
	f[FieldComponent] = component
	return f
}

func (f LogFields) WithRequestID(requestID string) LogFields {
	f[FieldRequestID] = requestID
	return f
}

func (f LogFields) WithClientIP(ip string) LogFields {
	f[FieldClientIP] = ip
	return f
}

// WithError adds the error text; nil errors are skipped
func (f LogFields) WithError(err error) LogFields {
	if err != nil {
		f[FieldError] = err.Error()
	}
	return f
}

func (f LogFields) WithOperation(op string) LogFields {
	f[FieldOperation] = op
	return f
}

// WithExpense adds expense-related fields
func (f LogFields) WithExpense(ownerID, documentID string, amountCents int64, category string) LogFields {
	f[FieldOwnerID] = ownerID
	if documentID != "" {
		f[FieldDocumentID] = documentID
	}
	f[FieldAmount] = amountCents
	f[FieldCategory] = category
	return f
}

// WithHTTPRequest adds HTTP request fields
func (f LogFields) WithHTTPRequest(method, path, query, userAgent string) LogFields {
	f[FieldMethod] = method
	f[FieldPath] = path
	f[FieldQuery] = query
	if userAgent != "" {
		f[FieldUserAgent] = userAgent
	}
	return f
}

// WithHTTPResponse adds HTTP response fields
func (f LogFields) WithHTTPResponse(statusCode int, durationMs int64) LogFields {
	f[FieldStatusCode] = statusCode
	f[FieldDuration] = durationMs
	f[FieldSuccess] = statusCode < 400
	return f
}

// ToSlice converts LogFields to a slice for slog
func (f LogFields) ToSlice() []any {
	slice := make([]any, 0, len(f)*2)
	for k, v := range f {
		slice = append(slice, k, v)
	}
	return slice
}
