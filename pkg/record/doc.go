// Package record defines the event model evaluated by predicates and the
// boundary representation used to hand a record to untrusted code.
//
// # Records
//
// A Record is an immutable value: identifier, author, creation time, kind,
// ordered tags, content and an opaque signature. No field is ever validated
// semantically. Negative or future timestamps, arbitrary kinds, empty tags and
// empty content are all legal.
//
// # Boundary Representation
//
// Marshal serializes a record into a JSON object whose fields appear in a
// fixed order:
//
//	{"id":…,"author":…,"created_at":…,"kind":…,"tags":[…],"content":…,"signature":…}
//
// Tags are always encoded as an array. Unmarshal is the exact inverse and
// rejects unknown fields, so Unmarshal(Marshal(r)) is Equal to r.
//
// # Reading Records
//
// Reader consumes JSON Lines input in either the boundary dialect or the
// relay dialect (pubkey/sig field names). Every line is validated against an
// embedded JSON Schema before it is decoded:
//
//	rd := record.NewReader(os.Stdin, record.DialectNostr)
//	for r := range rd.All() {
//	    ...
//	}
//	if err := rd.Err(); err != nil {
//	    ...
//	}
package record
