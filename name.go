package fault

import (
	"fmt"
	"regexp"
	"strings"
)

const validName = "^[a-zA-Z0-9-_]+$"

var validNameRegEx *regexp.Regexp = regexp.MustCompile(validName)

// isNameValid returns true if the name matches the
// regular expression "^[a-zA-Z0-9-_]+$".
func isNameValid(name string) bool {
	if name == "" {
		return false
	}
	return validNameRegEx.MatchString(name)
}

// injectorEntity is the entity type of injector keys in etcd.
const injectorEntity = "injector"

func stripNamespace(namespace, fullname string) (string, error) {
	plen := len(namespace) + 1 + len(injectorEntity) + 1
	if len(fullname) <= plen {
		return "", ErrInvalidName
	}
	return fullname[plen:], nil
}

func namespaceName(namespace, name string) (string, error) {
	if !isNameValid(name) {
		return "", ErrInvalidName
	}
	if !isNameValid(namespace) {
		return "", ErrInvalidNamespace
	}
	return fmt.Sprintf("%v.%v.%v", namespace, injectorEntity, name), nil
}

func namespacePrefix(namespace string) (string, error) {
	if !isNameValid(namespace) {
		return "", ErrInvalidNamespace
	}
	return fmt.Sprintf("%v.%v.", namespace, injectorEntity), nil
}

// formatName formats an address into a valid injector name,
// replacing the separators of host and port.
func formatName(address string) string {
	name := address
	name = strings.Replace(name, ":", "-", -1)
	name = strings.Replace(name, ".", "-", -1)
	name = strings.Replace(name, "/", "-", -1)
	name = strings.Replace(name, "[", "", -1)
	name = strings.Replace(name, "]", "", -1)
	name = strings.Trim(name, "~\\!?@#$%^&*()<>+=|")
	name = strings.TrimSpace(name)
	return name
}
