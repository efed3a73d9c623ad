// Package file persists the credential record as a JSON file.
package file
