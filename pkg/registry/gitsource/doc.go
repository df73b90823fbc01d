// Package gitsource keeps a local clone of a git repository of predicate
// modules and polls it for new commits.
//
//	registry:
//	  git:
//	    enabled: true
//	    repository: https://github.com/example/predicates.git
//	    branch: main
//	    path: modules
//	    auth:
//	      type: token
//	      token: ${secret:git-token}
//	    poll:
//	      interval: 30s
//
// The registry reads modules from ModulePath and reloads when a poll pulls
// commits touching a module file. Authentication is by token (HTTPS basic
// auth), SSH key or none. Secret references in the token or key passphrase
// are expanded through the resolver given to WithSecrets on every clone
// and pull.
package gitsource
