/*
Maddy Mail Server - Composable all-in-one email server.
Copyright © 2019-2020 Max Mazurov <fox.cpp@disroot.org>, Maddy Mail Server contributors

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

package exterrors

type fieldsErr interface {
	Fields() map[string]interface{}
}

type fieldsWrap struct {
	err    error
	fields map[string]interface{}
}

func (fw fieldsWrap) Error() string {
	return fw.err.Error()
}

func (fw fieldsWrap) Unwrap() error {
	return fw.err
}

func (fw fieldsWrap) Fields() map[string]interface{} {
	return fw.fields
}

// Fields collects the context fields attached to err and all errors it
// wraps. Outer errors override fields of the inner ones.
func Fields(err error) map[string]interface{} {
	fields := make(map[string]interface{}, 5)

	for err != nil {
		if errFields, ok := err.(fieldsErr); ok {
			for k, v := range errFields.Fields() {
				if _, ok := fields[k]; ok {
					continue
				}
				fields[k] = v
			}
		}

		unwrap, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = unwrap.Unwrap()
	}

	return fields
}

// WithFields attaches context fields to err. They are reported by
// log.Logger.Error and used by Classify.
func WithFields(err error, fields map[string]interface{}) error {
	return fieldsWrap{err: err, fields: fields}
}
