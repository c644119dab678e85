// Package registry stores the tools and resources an MCP server exposes.
// Tool registration before Start is insert-only and fails fast on
// duplicates or missing handlers; after Start, only LiveRegister/Unregister
// mutate the map, atomically, so a concurrent tools/list always observes a
// consistent snapshot. Resource batch registration is atomic: either every
// URI in the batch is new and has a handler, or none of them are stored.
package registry
