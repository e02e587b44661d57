/*

Package gkel defines the value types and interfaces shared by the group key event log
packages: fractional and weighted signing thresholds, the key-value store contract used
for every member-local database, configuration options and logging defaults.

Protocol logic lives in the extensions under x/. Each member of a group is an
independent actor (see package agent) that owns its own database and private keys and
talks to the other members only through collaborator services: a mailbox relay and a
witness network.

*/
package gkel
