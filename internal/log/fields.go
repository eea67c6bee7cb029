package log

// Common field names for structured logging
const (
	FieldComponent   = "component"
	FieldRequestID   = "request_id"
	FieldError       = "error"
	FieldErrorType   = "error_type"
	FieldOperation   = "operation"
	FieldLedgerID    = "ledger_id"
	FieldReceiptID   = "receipt_id"
	FieldRunID       = "run_id"
	FieldImportID    = "import_id"
	FieldVendor      = "vendor"
	FieldCategory    = "category"
	FieldAmountCents = "amount_cents"
	FieldMethodUsed  = "extraction_method"
)

// Components defines standard component names
const (
	ComponentApp       = "app"
	ComponentHTTP      = "http"
	ComponentLedger    = "ledger"
	ComponentStorage   = "storage"
	ComponentWorker    = "worker"
	ComponentReconcile = "reconcile"
	ComponentStatement = "statement"
	ComponentSheets    = "sheets"
)

// Operations defines standard operation names
const (
	OpCreate    = "create"
	OpUpdate    = "update"
	OpImport    = "import"
	OpExtract   = "extract"
	OpReconcile = "reconcile"
)

// ErrorTypeValidation marks failures caused by bad input.
const ErrorTypeValidation = "validation_error"

// LogFields provides a builder pattern for structured log fields
type LogFields map[string]any

// NewFields creates a new LogFields instance
func NewFields() LogFields {
	return make(LogFields)
}

// WithComponent adds component field
func (f LogFields) WithComponent(component string) LogFields {
	f[FieldComponent] = component
	return f
}

// WithError adds error field
func (f LogFields) WithError(err error) LogFields {
	if err != nil {
		f[FieldError] = err.Error()
	}
	return f
}

// WithOperation adds operation field
func (f LogFields) WithOperation(op string) LogFields {
	f[FieldOperation] = op
	return f
}

// WithLedgerEntry adds ledger entry fields
func (f LogFields) WithLedgerEntry(id int64, vendor, category string, amountCents int64) LogFields {
	f[FieldLedgerID] = id
	f[FieldVendor] = vendor
	f[FieldCategory] = category
	f[FieldAmountCents] = amountCents
	return f
}

// WithReceipt adds receipt extraction fields
func (f LogFields) WithReceipt(id int64, method string) LogFields {
	f[FieldReceiptID] = id
	if method != "" {
		f[FieldMethodUsed] = method
	}
	return f
}

// WithErrorType adds the error category
func (f LogFields) WithErrorType(errorType string) LogFields {
	f[FieldErrorType] = errorType
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
