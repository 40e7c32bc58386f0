// Package pathway implements a single-state, lock-free reactive dataflow
// engine: a DAG of versioned-value Path nodes connected by Map, SwitchMap
// and Join edges, with demand-driven activation and backpressure-by-
// dropping under contention.
//
// Every write to a Path's Cache is a compare-and-swap; there is no mutex
// anywhere in this package. Activation propagates upward the moment a
// Path gains its first receiver (a downstream Path, or an external
// Observer added via Add), and deactivation propagates upward the moment
// the last one leaves.
//
// A minimal pipeline:
//
//	in, _ := pathway.Input[int]()
//	doubled, _ := pathway.Map(in, func(v int) int { return v * 2 })
//	sub := doubled.Add(func(v int) { fmt.Println(v) })
//	in.Emit(21) // prints 42
//	doubled.Remove(sub)
package pathway
