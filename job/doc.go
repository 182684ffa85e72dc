// Package job defines the core job model: the [Job] record, its lifecycle
// [State] machine, the handler [Registry], typed job definitions, and the
// [Store] persistence contract.
//
// A [Job] represents one unit of deferred work. It embeds [taskbus.Entity]
// for timestamps and moves through the state machine under the control of
// the dispatch loop; handlers only ever report progress and a result.
package job
