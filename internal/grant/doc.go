// Package grant holds the server side record of device authorization
// attempts and the stores that keep them.
//
// A Grant starts pending and moves exactly once to approved, denied or
// expired. Every store implements that transition as a compare-and-swap on
// the stored status, so that of two concurrent decisions for the same grant
// only one succeeds, and a token exchange racing an approval always observes
// the committed state.
//
// Three stores are provided: MemoryStore in this package, and the redis and
// postgres stores in the redisstore and pgstore subpackages.
package grant
