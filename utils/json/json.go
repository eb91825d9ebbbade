package json

import (
	"fmt"
	"net/url"
	"reflect"
	"strings"

	"github.com/bitly/go-simplejson"
)

func NewJSON(data []byte) (j *simplejson.Json, err error) {
	j, err = simplejson.NewJson(data)
	if err != nil {
		return nil, err
	}
	return j, nil
}

// StructToUrlValues converts a struct or pointer to struct into url.Values.
// Field names come from the json tag; zero fields and nil pointers are skipped,
// non-nil pointers are dereferenced so an explicit false survives.
func StructToUrlValues(data interface{}) (params url.Values, err error) {
	v := reflect.ValueOf(data)
	if v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return url.Values{}, nil
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return nil, fmt.Errorf("input data is not a struct or pointer to a struct")
	}

	params = url.Values{}
	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		tag := field.Tag.Get("json")
		if tag == "-" {
			continue
		}
		name := strings.Split(tag, ",")[0]
		if name == "" {
			name = field.Name
		}

		value := v.Field(i)
		if value.Kind() == reflect.Ptr {
			if value.IsNil() {
				continue
			}
			value = value.Elem()
		} else if value.IsZero() {
			continue
		}
		params.Set(name, fmt.Sprintf("%v", value.Interface()))
	}
	return params, nil
}
