package main

import (
	"flag"
	"strings"
)

type stringSet struct{ values []string }

var _ flag.Value = (*stringSet)(nil)

func flagStringSet(fs *flag.FlagSet, name string, usage string) *stringSet {
	ss := &stringSet{}
	fs.Var(ss, name, usage)
	return ss
}

func (ss *stringSet) Set(value string) error {
	for _, v := range ss.values {
		if value == v {
			return nil
		}
	}
	ss.values = append(ss.values, value)
	return nil
}

func (ss *stringSet) String() string {
	if len(ss.values) == 0 {
		return ""
	}
	return strings.Join(ss.values, ", ")
}

func (ss *stringSet) Get() []string {
	return ss.values
}
