// Command papyrus builds the shared library:
//
//	go build -buildmode=c-shared -o libpapyrus.so .
//
// Strings returned by the library are allocated with malloc and must be
// released with papyrus_free_str. Result handles must be released with
// papyrus_release, which also frees buffers from papyrus_result_page_data.
package main

/*
#include <stdint.h>
#include <stdlib.h>
*/
import "C"

import (
	"context"
	"unsafe"

	"github.com/ByLCY/papyrus/capi"
)

func main() {}

//export papyrus_formats
func papyrus_formats() *C.char {
	return C.CString(capi.Formats())
}

// papyrus_compile compiles the JSON request (root, main, overlays, config)
// and returns a result handle. It never returns 0.
//
//export papyrus_compile
func papyrus_compile(request *C.char) C.uint64_t {
	h := capi.Default.Compile(context.Background(), []byte(C.GoString(request)))
	return C.uint64_t(h)
}

//export papyrus_result_json
func papyrus_result_json(h C.uint64_t) *C.char {
	out := capi.Default.ResultJSON(capi.Handle(h))
	if out == "" {
		return nil
	}
	return C.CString(out)
}

//export papyrus_result_page_count
func papyrus_result_page_count(h C.uint64_t) C.int64_t {
	return C.int64_t(capi.Default.PageCount(capi.Handle(h)))
}

//export papyrus_result_page_size
func papyrus_result_page_size(h C.uint64_t, page C.int64_t) C.int64_t {
	return C.int64_t(capi.Default.PageSize(capi.Handle(h), int(page)))
}

// papyrus_result_copy_page copies page into dst of capacity cap and returns
// the bytes written, or -1.
//
//export papyrus_result_copy_page
func papyrus_result_copy_page(h C.uint64_t, page C.int64_t, dst *C.uint8_t, capacity C.size_t) C.int64_t {
	if dst == nil {
		return -1
	}
	buf := unsafe.Slice((*byte)(unsafe.Pointer(dst)), int(capacity))
	return C.int64_t(capi.Default.CopyPage(capi.Handle(h), int(page), buf))
}

// papyrus_result_page_data returns a C copy of page owned by the handle; it
// stays valid until papyrus_release.
//
//export papyrus_result_page_data
func papyrus_result_page_data(h C.uint64_t, page C.int64_t, size *C.size_t) unsafe.Pointer {
	data, ok := capi.Default.Page(capi.Handle(h), int(page))
	if !ok {
		return nil
	}
	p := C.CBytes(data)
	if !capi.Default.OnRelease(capi.Handle(h), func() { C.free(p) }) {
		C.free(p)
		return nil
	}
	if size != nil {
		*size = C.size_t(len(data))
	}
	return p
}

//export papyrus_release
func papyrus_release(h C.uint64_t) C.int {
	if capi.Default.Release(capi.Handle(h)) {
		return 1
	}
	return 0
}

//export papyrus_query
func papyrus_query(request, selector, format *C.char) *C.char {
	out := capi.Query(context.Background(), []byte(C.GoString(request)), C.GoString(selector), C.GoString(format))
	return C.CString(out)
}

//export papyrus_eval
func papyrus_eval(code, config *C.char) *C.char {
	return C.CString(capi.Eval(C.GoString(code), []byte(C.GoString(config))))
}

//export papyrus_syntax
func papyrus_syntax(request *C.char) *C.char {
	return C.CString(capi.Syntax([]byte(C.GoString(request))))
}

//export papyrus_free_str
func papyrus_free_str(s *C.char) {
	if s != nil {
		C.free(unsafe.Pointer(s))
	}
}
