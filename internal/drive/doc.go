// Package drive provides a small client for the Google Drive API.
//
// The automation engine stores files for save_file actions here (for example
// the body of an office action mail) and deletes them again when the batch
// that created them is rolled back.
//
// OAuth Authentication:
// This package uses tokens from the google package. The drive.file scope only
// grants access to files this application created, which is all that upload
// and compensation need.
//
// Example usage:
//
//	client, err := drive.NewClientForAccountWithProvider(ctx, "default", provider, metrics)
//	if err != nil {
//	    return err
//	}
//	file, err := client.UploadFile(ctx, "office-action.txt", strings.NewReader(body), &drive.UploadOptions{
//	    MimeType: "text/plain",
//	})
package drive
