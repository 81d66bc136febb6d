package main

/*
#include <stdlib.h>
#include <string.h>

// request_fn is registered by the host. It runs a host function and returns
// its reply; the reply buffer stays owned by the host.
typedef const char* (*request_fn)(const char* function, const char** argv, int argc);

static const char* call_request(request_fn fn, const char* function, const char** argv, int argc) {
    return fn(function, argv, argc);
}
*/
import "C"

import (
	"errors"
	"fmt"
	"sync"
	"unsafe"
)

// ErrNoHostCallback is returned for requests made before the host registered
// its request function.
var ErrNoHostCallback = errors.New("host request function not registered")

// called by the host to get the version of the extension
//
//export RVExtensionVersion
func RVExtensionVersion(output *C.char, outputsize C.size_t) {
	replyToSyncCall(bridge.Version(), output, outputsize)
}

// called by the host in the format "command|arg|arg"
//
//export RVExtension
func RVExtension(output *C.char, outputsize C.size_t, input *C.char) {
	replyToSyncCall(bridge.CallRaw(C.GoString(input)), output, outputsize)
}

// called by the host with the command and its arguments separated
//
//export RVExtensionArgs
func RVExtensionArgs(output *C.char, outputsize C.size_t, input *C.char, argv **C.char, argc C.int) {
	replyToSyncCall(bridge.Call(C.GoString(input), parseArgsFromC(argv, argc)), output, outputsize)
}

// called once by the host to hand over the function the extension uses to
// reach back into the game
//
//export RVExtensionRegisterRequest
func RVExtensionRegisterRequest(fn C.request_fn) {
	host.set(fn)
	if Logger != nil {
		Logger.Info("Host request function registered")
	}
}

// cgoTransport sends client requests through the host's registered function.
type cgoTransport struct {
	mu sync.Mutex
	fn C.request_fn
}

func (t *cgoTransport) set(fn C.request_fn) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.fn = fn
}

func (t *cgoTransport) Request(function string, args ...string) (string, error) {
	t.mu.Lock()
	fn := t.fn
	t.mu.Unlock()
	if fn == nil {
		return "", ErrNoHostCallback
	}

	cFunction := C.CString(function)
	defer C.free(unsafe.Pointer(cFunction))

	var argv **C.char
	if len(args) > 0 {
		mem := C.malloc(C.size_t(len(args)) * C.size_t(unsafe.Sizeof(uintptr(0))))
		defer C.free(mem)
		cArgs := unsafe.Slice((**C.char)(mem), len(args))
		for i, a := range args {
			cArgs[i] = C.CString(a)
			defer C.free(unsafe.Pointer(cArgs[i]))
		}
		argv = (**C.char)(mem)
	}

	reply := C.call_request(fn, cFunction, argv, C.int(len(args)))
	if reply == nil {
		return "", fmt.Errorf("%s: no reply from host", function)
	}
	return C.GoString(reply), nil
}

// parseArgsFromC converts C argv array to Go string slice
func parseArgsFromC(argv **C.char, argc C.int) []string {
	if argc <= 0 || argv == nil {
		return nil
	}
	cArgs := unsafe.Slice(argv, int(argc))
	data := make([]string, len(cArgs))
	for i, a := range cArgs {
		data[i] = C.GoString(a)
	}
	return data
}

// replyToSyncCall copies the response into the host's buffer, truncating it
// to fit and always terminating it.
func replyToSyncCall(response string, output *C.char, outputsize C.size_t) {
	if outputsize == 0 {
		return
	}
	result := C.CString(response)
	defer C.free(unsafe.Pointer(result))
	size := C.strlen(result) + 1
	if size > outputsize {
		size = outputsize
	}
	C.memmove(unsafe.Pointer(output), unsafe.Pointer(result), size)
	*(*C.char)(unsafe.Add(unsafe.Pointer(output), size-1)) = 0
}
