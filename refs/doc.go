// Package refs resolves by-reference object descriptors against a file of
// named XML profiles.
//
// Clients on constrained links often create entities by naming a profile
// that the agent operator has configured ahead of time instead of sending
// the full XML. The profiles live in a YAML file:
//
//	profiles:
//	  - name: shapes_participant
//	    kind: participant
//	    xml: |
//	      <dds><participant><rtps><name>shapes</name></rtps></participant></dds>
//
// Load parses and validates the file into a Repository; Watch reloads it
// when it changes on disk. Resolver is an entities.Factory decorator that
// replaces by-reference descriptors with the profile XML before handing the
// request downstream. Schema emits a JSON Schema for the file format.
package refs
