// Command persistid inspects and manages the persistent installation
// identifier.
//
// Every command runs against the local store directly, so the daemon does
// not need to be running. Mutations are serialized with the daemon through
// the store process lock when store.process_lock is enabled.
package main
