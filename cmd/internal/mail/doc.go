// Package mail delivers warden's outbound messages.
//
// Handlers hand messages to a Mailer explicitly. The Dispatcher wraps any
// Mailer with a bounded queue drained by background workers so requests never
// wait on delivery.
package mail
