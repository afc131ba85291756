// internal/domain/dispatch/row.go
package dispatch

import "strings"

// Row is one flat input record as handed over by the row source (an uploaded sheet).
type Row map[string]string

// Column names expected in the uploaded sheet.
const (
	FieldPhone        = "TELEFONO"
	FieldCustomerName = "NOMBRE_CLIENTE"
	FieldAccountID    = "N_CUENTA"
	FieldDueDate      = "D_VENCIMIENTO"
	FieldBalance      = "SALDO_VENCIDO"
	FieldRPT          = "RPT"
	FieldSellerKey    = "CLAVE_VENDEDOR"
)

// Get returns the trimmed value of a field, or "" when missing.
func (r Row) Get(field string) string {
	return strings.TrimSpace(r[field])
}

// GetOr returns the trimmed value of a field, or fallback when missing or blank.
func (r Row) GetOr(field, fallback string) string {
	if v := r.Get(field); v != "" {
		return v
	}
	return fallback
}

// Label is the final per-row outcome written back to the sheet.
type Label string

const (
	LabelMessagesSent  Label = "messages sent"
	LabelInvalidNumber Label = "invalid number"
)

// StatusColumn is the 0-based column of the status label in a RowRecord (column G).
const StatusColumn = 6

// RowRecord is the fixed-width result for one input row.
type RowRecord struct {
	Phone        string `json:"phone"` // key form, or the raw value when it could not be canonicalized
	CustomerName string `json:"customer_name"`
	AccountID    string `json:"account_id"`
	Balance      string `json:"balance"`
	RPT          string `json:"rpt"`
	SellerKey    string `json:"seller_key"`
	Status       Label  `json:"status"`
}

// Values renders the record as the sheet row it is stored as.
func (r RowRecord) Values() []string {
	return []string{r.Phone, r.CustomerName, r.AccountID, r.Balance, r.RPT, r.SellerKey, string(r.Status)}
}

// RecordFromValues is the inverse of Values; missing trailing cells are left empty.
func RecordFromValues(values []string) RowRecord {
	cell := func(i int) string {
		if i < len(values) {
			return values[i]
		}
		return ""
	}
	return RowRecord{
		Phone:        cell(0),
		CustomerName: cell(1),
		AccountID:    cell(2),
		Balance:      cell(3),
		RPT:          cell(4),
		SellerKey:    cell(5),
		Status:       Label(cell(StatusColumn)),
	}
}
