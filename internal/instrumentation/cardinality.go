package instrumentation

import "strings"

// ExtractUserDomain returns the domain of email, or "unknown" when email has
// none. Approver emails are logged and labelled by domain only.
func ExtractUserDomain(email string) string {
	_, domain, ok := strings.Cut(email, "@")
	if !ok || domain == "" || strings.Contains(domain, "@") {
		return "unknown"
	}
	return domain
}

// Operation types for Google API metrics.
const (
	OperationList   = "list"
	OperationGet    = "get"
	OperationCreate = "create"
	OperationDelete = "delete"
	OperationSend   = "send"
)
