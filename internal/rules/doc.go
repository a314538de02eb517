// Package rules matches inbound email against automation rules and stages
// an approval batch for every match.
//
// Rule conditions are CEL expressions over a single map variable, mail, with
// the keys id, thread_id, from, to, cc, subject, snippet, body, labels and
// received_at:
//
//	mail.from.endsWith("@uspto.gov") && mail.subject.contains("Office Action")
//
// A staged batch is auto_approved when its rule allows it and otherwise waits
// in pending_approval for the rule's approver.
package rules
