// Package html parses HTML documents with CSS selectors (goquery).
//
// Each configured output field maps to a selector. A selector may end in
// "@attr" to read an attribute instead of the element text, and a field
// name ending in "[]" collects every match instead of the first. Without
// configured fields the parser extracts the page title and body text.
package html
