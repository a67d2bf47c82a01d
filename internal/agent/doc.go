// Package agent is the host runtime for plugin actions. It resolves a chat
// message to a registered action, keeps a short conversation memory, composes
// prompt state from providers and runs the action's validate/handler pair with
// a response callback.
package agent
