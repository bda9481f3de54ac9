package service

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"

	"finrecon/internal/models"

	"github.com/shopspring/decimal"
)

var errNoJSONObject = errors.New("no JSON object in model output")

// buildExtractionPrompt asks for exactly the fields ParseExtraction reads.
func buildExtractionPrompt(tenantNames []string) string {
	identity := "unknown"
	if len(tenantNames) > 0 {
		identity = strings.Join(tenantNames, "; ")
	}
	return fmt.Sprintf(`You extract accounting data from a financial document (invoice, receipt or bank statement).
The document was uploaded by the company known as: %s.

Return ONLY a JSON object, no commentary, with these fields:
{
  "document_type": "invoice | receipt | bank_statement | other",
  "transaction_type": "expense | income | transfer | unknown",
  "counterparty_name": "the other party of the transaction",
  "owner_name": "the company the document is addressed to or issued for",
  "total_amount": 0.00,
  "currency": "ISO 4217 code",
  "transaction_date": "YYYY-MM-DD",
  "description": "one short line",
  "belongs_to_tenant": true,
  "confidence": 0.0
}

Rules:
- total_amount is the grand total as a number, negative for credit notes and refunds; use null if it cannot be read.
- belongs_to_tenant is true if the document belongs to the uploading company, false if it clearly belongs to another company, null if you cannot tell.
- confidence is your confidence in the extraction between 0 and 1.
- Use null for any field you cannot read. Never invent values.`, identity)
}

type rawExtraction struct {
	DocumentType     string          `json:"document_type"`
	TransactionType  string          `json:"transaction_type"`
	CounterpartyName string          `json:"counterparty_name"`
	OwnerName        string          `json:"owner_name"`
	TotalAmount      json.RawMessage `json:"total_amount"`
	Currency         string          `json:"currency"`
	TransactionDate  string          `json:"transaction_date"`
	Description      string          `json:"description"`
	BelongsToTenant  json.RawMessage `json:"belongs_to_tenant"`
	Confidence       json.RawMessage `json:"confidence"`
}

// ParseExtraction turns raw model output into an ExtractedRecord. Output
// without a JSON object is an error; individual unreadable fields are
// left empty and the ownership flag falls back to Unknown.
func ParseExtraction(content string) (*models.ExtractedRecord, error) {
	jsonStr, err := extractJSONObject(content)
	if err != nil {
		return nil, err
	}

	var raw rawExtraction
	if err := json.Unmarshal([]byte(jsonStr), &raw); err != nil {
		return nil, fmt.Errorf("failed to parse model output: %w", err)
	}

	return &models.ExtractedRecord{
		DocumentType:     strings.ToLower(strings.TrimSpace(raw.DocumentType)),
		TransactionType:  parseTransactionType(raw.TransactionType),
		CounterpartyName: CleanName(sanitizeUTF8(raw.CounterpartyName)),
		OwnerName:        CleanName(sanitizeUTF8(raw.OwnerName)),
		TotalAmount:      parseAmount(raw.TotalAmount),
		Currency:         parseCurrency(raw.Currency),
		TransactionDate:  parseDate(raw.TransactionDate),
		Description:      strings.TrimSpace(sanitizeUTF8(raw.Description)),
		BelongsToTenant:  parseOwnership(raw.BelongsToTenant),
		Confidence:       parseConfidence(raw.Confidence),
	}, nil
}

// extractJSONObject strips markdown fences and surrounding prose.
func extractJSONObject(content string) (string, error) {
	s := strings.TrimSpace(content)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start == -1 || end == -1 || end < start {
		return "", errNoJSONObject
	}
	return s[start : end+1], nil
}

func parseTransactionType(s string) models.TransactionType {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "expense", "purchase", "debit", "payment":
		return models.TransactionTypeExpense
	case "income", "sale", "credit", "revenue":
		return models.TransactionTypeIncome
	case "transfer":
		return models.TransactionTypeTransfer
	}
	return models.TransactionTypeUnknown
}

// parseAmount reads a grand total from a JSON number or a formatted string.
// The sign is kept so credit notes stay negative.
func parseAmount(raw json.RawMessage) decimal.NullDecimal {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return decimal.NullDecimal{}
	}
	if unquoted, err := strconv.Unquote(s); err == nil {
		s = unquoted
	}

	// keep digits and separators: "1 234,56 ₽" -> "1234,56"
	var b strings.Builder
	negative := false
	for _, r := range s {
		switch {
		case unicode.IsDigit(r) || r == '.' || r == ',':
			b.WriteRune(r)
		case (r == '-' || r == '\u2212' || r == '(') && b.Len() == 0:
			negative = true
		}
	}

	d, err := decimal.NewFromString(normalizeSeparators(b.String()))
	if err != nil {
		return decimal.NullDecimal{}
	}
	if negative {
		d = d.Neg()
	}
	return decimal.NewNullDecimal(d)
}

// normalizeSeparators rewrites a digit string to use "." as the decimal
// point. With both separators present the last one is the decimal point.
// A lone comma followed by exactly three digits groups thousands.
func normalizeSeparators(s string) string {
	lastDot := strings.LastIndex(s, ".")
	lastComma := strings.LastIndex(s, ",")

	switch {
	case lastDot >= 0 && lastComma >= 0:
		if lastComma > lastDot {
			s = strings.ReplaceAll(s, ".", "")
			return strings.Replace(s, ",", ".", 1)
		}
		return strings.ReplaceAll(s, ",", "")
	case lastComma >= 0:
		if strings.Count(s, ",") > 1 || len(s)-lastComma-1 == 3 {
			return strings.ReplaceAll(s, ",", "")
		}
		return strings.Replace(s, ",", ".", 1)
	case strings.Count(s, ".") > 1:
		return strings.ReplaceAll(s, ".", "")
	}
	return s
}

var currencySymbols = map[string]string{
	"€": "EUR", "$": "USD", "£": "GBP", "¥": "JPY", "₽": "RUB", "руб": "RUB", "р": "RUB", "rub": "RUB",
}

func parseCurrency(s string) string {
	s = strings.TrimSpace(s)
	if code, ok := currencySymbols[strings.ToLower(strings.TrimSuffix(s, "."))]; ok {
		return code
	}
	s = strings.ToUpper(s)
	if len(s) != 3 {
		return ""
	}
	for _, r := range s {
		if r < 'A' || r > 'Z' {
			return ""
		}
	}
	return s
}

var dateLayouts = []string{"2006-01-02", time.RFC3339, "02.01.2006", "02/01/2006", "2006/01/02"}

func parseDate(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}

func parseOwnership(raw json.RawMessage) models.Ownership {
	// null would otherwise decode as false
	if t := strings.TrimSpace(string(raw)); t == "" || t == "null" {
		return models.OwnershipUnknown
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		if b {
			return models.OwnershipTrue
		}
		return models.OwnershipFalse
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "true", "yes":
			return models.OwnershipTrue
		case "false", "no":
			return models.OwnershipFalse
		}
	}
	return models.OwnershipUnknown
}

func parseConfidence(raw json.RawMessage) float64 {
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0
		}
		if f, err = strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(s), "%"), 64); err != nil {
			return 0
		}
	}
	// some models answer in percent
	if f > 1 && f <= 100 {
		f /= 100
	}
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
