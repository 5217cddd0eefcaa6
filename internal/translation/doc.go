// Package translation translates recognized text between languages.
package translation
