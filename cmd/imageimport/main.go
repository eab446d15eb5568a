/*
 * Copyright (c) 2020 Siemens AG
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy of
 * this software and associated documentation files (the "Software"), to deal in
 * the Software without restriction, including without limitation the rights to
 * use, copy, modify, merge, publish, distribute, sublicense, and/or sell copies of
 * the Software, and to permit persons to whom the Software is furnished to do so,
 * subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY, FITNESS
 * FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE AUTHORS OR
 * COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER LIABILITY, WHETHER
 * IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM, OUT OF OR IN
 * CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE SOFTWARE.
 *
 * Author(s): Demian Kellermann, Jonas Plum
 */

// Package main implements the imageimport command line tool that extracts
// forensic artifacts from images into a forensicstore.
//
// Usage
//
// Extract artifacts from an image
//     imageimport -a artifacts -e WindowsRunKeys,WindowsHostsFile -d out.forensicstore -i image.dd
// Extract from partition zips with a key list
//     imageimport --partition-zips -k keys.csv -e DefaultCollection1 -d out.forensicstore -i c.zip,d.zip.age
// Inspect the result
//     imageimport element select file out.forensicstore
//     imageimport validate out.forensicstore
package main

import (
	"fmt"
	"os"

	"github.com/forensicanalysis/imageimport/cmd"
)

func main() {
	rootCmd := cmd.Extract()
	rootCmd.AddCommand(cmd.Element(), cmd.Validate())
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("Error:", err)
		os.Exit(1)
	}
}
