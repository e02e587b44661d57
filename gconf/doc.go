/*
Package gconf implements a configuration store intended to be used as a
per-member, in-database configuration.

Each package that is configurable declares its own configuration type. The
initial configuration is read from the member options under the "conf" key,
validated and saved in the member database. Packages load it back with Load.

Not being able to get a configuration value is a critical condition: the
member cannot take part in any group operation until it is configured
correctly.
*/
package gconf
