// Package services defines shared error classification and context
// annotation helpers used by stage implementations and the external
// service clients under services/.
package services
