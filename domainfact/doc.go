// Package domainfact exposes read-only access to the external business
// records that ground assistant replies: customers, sales orders, work
// orders, invoices, payments and tasks.
//
// The core pipeline only ever reads through the Store interface. Lookups are
// side-effect free, so CachedStore can memoize them with a short TTL without
// changing semantics. The sqlite subpackage implements Store over the
// business schema and assembles related-record snapshots (customer -> recent
// orders and open invoices, invoice -> payment rollup with remaining
// balance, order -> work orders).
package domainfact
