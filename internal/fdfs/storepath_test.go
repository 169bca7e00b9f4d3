package fdfs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStorePath(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    StorePath
		wantErr bool
	}{
		{
			name: "full url",
			raw:  "http://192.168.0.202:9999/group1/M00/00/00/wKgAyl8yNwGAECEaAADJbfIXAss152.jpg",
			want: StorePath{Group: "group1", Path: "M00/00/00/wKgAyl8yNwGAECEaAADJbfIXAss152.jpg"},
		},
		{
			name: "bare full path",
			raw:  "group2/M01/0A/FF/abc.png",
			want: StorePath{Group: "group2", Path: "M01/0A/FF/abc.png"},
		},
		{
			name: "leading slash",
			raw:  "/group1/M00/00/00/a",
			want: StorePath{Group: "group1", Path: "M00/00/00/a"},
		},
		{
			name: "first group segment wins",
			raw:  "http://files/group1/M00/group2/x",
			want: StorePath{Group: "group1", Path: "M00/group2/x"},
		},
		{name: "no separator", raw: "group1", wantErr: true},
		{name: "no group segment", raw: "http://host/bucket/key.jpg", wantErr: true},
		{name: "empty path", raw: "http://host/group1/", wantErr: true},
		{name: "empty", raw: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseStorePath(tt.raw)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidStorePath)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStorePath_URLRoundTrip(t *testing.T) {
	sp := StorePath{Group: "group1", Path: "M00/00/00/wKgAyl8yNw.jpg"}
	got, err := ParseStorePath("http://127.0.0.1:8888/" + sp.FullPath())
	require.NoError(t, err)
	assert.Equal(t, sp, got)
	assert.Equal(t, "group1/M00/00/00/wKgAyl8yNw.jpg", sp.String())
}

func TestMetaData_Encoding(t *testing.T) {
	m := MetaData{"Author": "JackyTang", "CreateDate": "2020-08-11"}
	encoded := m.encode()
	assert.Equal(t, "Author\x02JackyTang\x01CreateDate\x022020-08-11", string(encoded))
	assert.Equal(t, m, decodeMetaData(encoded))

	assert.Nil(t, MetaData{}.encode())
	assert.Equal(t, MetaData{}, decodeMetaData(nil))
	assert.Equal(t, MetaData{"k": ""}, decodeMetaData([]byte("k")))
}
