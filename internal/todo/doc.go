// Package todo defines task records, the task list, and their stored form.
//
// The stored form is a JSON array of task objects, most recent first:
//
//	[
//	  {
//	    "id": 2,
//	    "title": "Call the plumber",
//	    "description": "Kitchen sink",
//	    "completed": false
//	  },
//	  {
//	    "id": 1,
//	    "title": "Buy milk",
//	    "description": "2%",
//	    "completed": true
//	  }
//	]
//
// # Lists
//
// A List is treated as an immutable snapshot. Prepend and Toggle return a new
// List and leave the receiver untouched, so a snapshot handed to a renderer or
// a writer never changes underneath it.
//
// # Decoding
//
// Decode checks the payload against the bundled JSON Schema (draft 2020-12)
// before unmarshalling it:
//   - the document must be an array
//   - every item needs id (integer), title, description (strings) and
//     completed (boolean)
//
// Schema failures are reported as *ValidationError values wrapped in ErrDecode.
//
// # Ids
//
// New ids come from NextID. IDLength reproduces the historical "length + 1"
// rule; IDMax uses one more than the highest id present. The two agree for
// any list built only by Prepend, since tasks are never removed.
package todo
