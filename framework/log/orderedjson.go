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

package log

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Keys are sorted so output lines are deterministic and easier to line up
// when reading.
func marshalOrderedJSON(output *strings.Builder, m map[string]interface{}) error {
	order := make([]string, 0, len(m))
	for k := range m {
		order = append(order, k)
	}
	sort.Strings(order)

	output.WriteRune('{')
	for i, key := range order {
		if i != 0 {
			output.WriteRune(',')
		}

		jsonKey, err := json.Marshal(key)
		if err != nil {
			return err
		}
		output.Write(jsonKey)
		output.WriteString(":")

		jsonValue, err := json.Marshal(logValue(m[key]))
		if err != nil {
			return err
		}
		output.Write(jsonValue)
	}
	output.WriteRune('}')

	return nil
}

func logValue(val interface{}) interface{} {
	switch casted := val.(type) {
	case time.Time:
		return casted.Format("2006-01-02T15:04:05.000")
	case time.Duration:
		return casted.String()
	case LogFormatter:
		return casted.FormatLog()
	case fmt.Stringer:
		return casted.String()
	case error:
		return casted.Error()
	}
	return val
}
